package queue

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// idSize is the length, in bytes, of a job id's hex encoding (128 bits of
// random source, lowercase hex, 2 hex chars per byte).
const idSize = 32

// JobID is a 32-byte lowercase-hex job identifier.
type JobID string

// newJobID mints a random (v4) UUID and renders it as a bare 32-char
// lowercase hex string with no dashes — the Go equivalent of the
// reference's Uuid::new_v4().to_simple().encode_lower().
func newJobID() JobID {
	id := uuid.New()
	buf := make([]byte, idSize)
	hex.Encode(buf, id[:])
	return JobID(buf)
}

// Job is an opaque payload plus its retry interval and lease state.
type Job struct {
	id      JobID
	payload []byte
	retry   time.Duration
	leased  bool
	leaseAt time.Time
}

func newJob(payload []byte, retry time.Duration) *Job {
	return &Job{
		id:      newJobID(),
		payload: payload,
		retry:   retry,
	}
}

// ID returns the job's identifier.
func (j *Job) ID() JobID { return j.id }

// Payload returns the job's opaque body.
func (j *Job) Payload() []byte { return j.payload }

// eligible reports whether the job may be handed out by Queue.Get: it has
// never been leased, or its lease has expired.
func (j *Job) eligible(now time.Time) bool {
	return !j.leased || now.Sub(j.leaseAt) > j.retry
}

// lease stamps the job as leased as of now ("lease renewal" on retry).
func (j *Job) lease(now time.Time) {
	j.leased = true
	j.leaseAt = now
}
