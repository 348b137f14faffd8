package queue

import "time"

// Queue owns an ordered sequence of jobs, in insertion order. Its methods
// are invoked only from the queue manager's single consumer goroutine and
// need no internal synchronization.
type Queue struct {
	jobs []*Job
}

func newQueue() *Queue {
	return &Queue{}
}

// add appends a job to the tail.
func (q *Queue) add(j *Job) {
	q.jobs = append(q.jobs, j)
}

// get scans from the head and returns the first eligible job — one never
// leased, or leased but past its retry deadline — stamping it leased as a
// side effect. A leased-then-expired job takes precedence over later
// never-leased jobs because the scan is strictly head-first; no separate
// in-flight structure is needed since delivery is at-least-once.
func (q *Queue) get() *Job {
	now := time.Now()
	for _, j := range q.jobs {
		if j.eligible(now) {
			j.lease(now)
			return j
		}
	}
	return nil
}

// ack removes the first job with the given id. Reports whether a job was
// removed.
func (q *Queue) ack(id JobID) bool {
	for i, j := range q.jobs {
		if j.id == id {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			return true
		}
	}
	return false
}

// len returns the number of jobs present, leased or not.
func (q *Queue) len() int {
	return len(q.jobs)
}

// leasedCount returns the number of jobs whose leased flag is set. This
// is a raw flag count, not adjusted for retry expiry.
func (q *Queue) leasedCount() int {
	n := 0
	for _, j := range q.jobs {
		if j.leased {
			n++
		}
	}
	return n
}
