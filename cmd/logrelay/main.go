package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/coffersTech/logrelay/internal/classify"
	"github.com/coffersTech/logrelay/internal/config"
	"github.com/coffersTech/logrelay/internal/metrics"
	"github.com/coffersTech/logrelay/internal/registry"
	"github.com/coffersTech/logrelay/internal/server"
	"github.com/coffersTech/logrelay/internal/session"
	"github.com/coffersTech/logrelay/internal/sink"
	"github.com/coffersTech/logrelay/internal/stats"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Command-line flags override the environment.
	flag.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "TCP address for JSON log lines")
	flag.StringVar(&cfg.AdminAddr, "admin", cfg.AdminAddr, "HTTP address for metrics and status (empty disables)")
	flag.StringVar(&cfg.SessionName, "session", cfg.SessionName, "Recording session name")
	flag.Parse()

	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Forwarded TRACE records must reach the console sink regardless of the
	// diagnostic logger's own level.
	zerolog.SetGlobalLevel(zerolog.TraceLevel)

	// 1. Session and sink
	sess := session.New(cfg.SessionName)
	handle, err := sink.Open(cfg.SinkOptions(), sess, logger)
	if err != nil {
		logger.Fatal().Err(err).Strs("sinks", cfg.Sinks).Msg("Failed to open sink")
	}
	logger.Info().
		Str("session", sess.Name).
		Str("session_id", sess.ID.String()).
		Strs("sinks", cfg.Sinks).
		Msg("Sink ready")

	// 2. Shared pipeline state
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)
	st := stats.NewRecorder()
	conns := registry.NewStore()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go st.RunRateTicker(ctx, time.Second)

	// 3. TCP ingest; a bind failure is fatal.
	ingest := server.NewIngestServer(server.Deps{
		Sink:       handle,
		Classifier: classify.New(cfg.Level()),
		Metrics:    m,
		Stats:      st,
		Registry:   conns,
		Logger:     logger,
	}, cfg.MaxConnections)
	if err := ingest.Listen(cfg.ListenAddr); err != nil {
		logger.Fatal().Err(err).Msg("TCP bind failed")
	}
	go func() {
		if err := ingest.Serve(ctx); err != nil {
			logger.Error().Err(err).Msg("TCP receiver stopped")
		}
	}()

	// 4. Admin HTTP
	var admin *server.AdminServer
	if cfg.AdminAddr != "" {
		admin = server.NewAdminServer(st, conns, promReg, sess, logger)
		go func() {
			if err := admin.Start(cfg.AdminAddr); err != nil {
				logger.Error().Err(err).Msg("Admin server stopped")
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info().Str("signal", sig.String()).Msg("Shutting down")

	// Open connections are abandoned; only the sink gets a chance to flush.
	cancel()
	if admin != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		if err := admin.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Admin shutdown error")
		}
		stop()
	}
	if err := handle.Close(); err != nil {
		logger.Warn().Err(err).Msg("Sink close error")
	}
	logger.Info().Msg("logrelay exited")
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var l zerolog.Logger
	if cfg.LogConsole {
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		l = zerolog.New(os.Stderr)
	}
	return l.Level(level).With().Timestamp().Logger()
}
