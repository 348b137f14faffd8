package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/oriys/quest/internal/config"
	"github.com/oriys/quest/internal/logging"
	"github.com/oriys/quest/internal/metrics"
	"github.com/oriys/quest/internal/observability"
	"github.com/oriys/quest/internal/protocol"
	"github.com/oriys/quest/internal/queue"
	"github.com/oriys/quest/internal/reactor"
	"github.com/oriys/quest/internal/shutdown"
)

func serveCmd() *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the job-queue server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if configFile != "" {
				var err error
				cfg, err = config.LoadFromFile(configFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			}
			config.LoadFromEnv(cfg)

			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}

			logging.SetLevelFromString(cfg.Observability.Logging.Level)
			logging.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)

			if err := observability.Init(context.Background(), observability.Config{
				Enabled:     cfg.Observability.Tracing.Enabled,
				Exporter:    cfg.Observability.Tracing.Exporter,
				Endpoint:    cfg.Observability.Tracing.Endpoint,
				ServiceName: cfg.Observability.Tracing.ServiceName,
				SampleRate:  cfg.Observability.Tracing.SampleRate,
			}); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.Shutdown(context.Background())

			var rec *metrics.Metrics
			if cfg.Observability.Metrics.Enabled {
				rec = metrics.New(cfg.Observability.Metrics.Namespace, cfg.Observability.Metrics.HistogramBuckets)
				go serveMetrics(cfg.Observability.Metrics.Addr, rec)
			}

			reqCh := make(chan protocol.Request, cfg.Queue.RequestBuffer)
			repCh := make(chan protocol.Reply, cfg.Queue.ReplyBuffer)
			flag := &shutdown.Flag{}

			var connMetrics reactor.ConnMetrics
			var queueRecorder queue.Recorder
			if rec != nil {
				connMetrics = rec
				queueRecorder = rec
			}

			re, err := reactor.New(cfg.Server.Host, cfg.Server.Port, reqCh, repCh, flag, connMetrics)
			if err != nil {
				return fmt.Errorf("start listener: %w", err)
			}
			defer re.Close()

			stop := shutdown.Notify(flag, re.Waker())
			defer stop()

			mgr := queue.New(queueRecorder)
			go mgr.Run(reqCh, repCh, re.Waker())

			logging.Op().Info("questd listening", "host", cfg.Server.Host, "port", cfg.Server.Port)
			return re.Serve()
		},
	}

	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "Host to bind")
	cmd.Flags().IntVar(&port, "port", 7711, "Port to bind")
	return cmd
}

func serveMetrics(addr string, rec *metrics.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", rec.Handler())
	logging.Op().Info("metrics listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logging.Op().Error("metrics server stopped", "error", err)
	}
}
