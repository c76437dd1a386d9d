package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/coffersTech/logrelay/internal/classify"
	"github.com/coffersTech/logrelay/internal/extract"
	"github.com/coffersTech/logrelay/internal/metrics"
	"github.com/coffersTech/logrelay/internal/registry"
	"github.com/coffersTech/logrelay/internal/sink"
	"github.com/coffersTech/logrelay/internal/stats"
)

// Deps are the collaborators shared by every connection.
type Deps struct {
	Sink       sink.Handle
	Classifier *classify.Classifier // default: classify.New(classify.DefaultLevel)
	Metrics    *metrics.Metrics     // optional
	Stats      *stats.Recorder      // default: a private recorder
	Registry   *registry.Store      // default: a private store
	Logger     zerolog.Logger
}

// IngestServer accepts TCP connections carrying newline-delimited JSON logs.
// Every connection is read by its own goroutine; nothing waits for a
// connection to finish, and connections still open when the process exits
// are abandoned.
type IngestServer struct {
	sink       sink.Handle
	classifier *classify.Classifier
	extractor  extract.Extractor
	metrics    *metrics.Metrics
	stats      *stats.Recorder
	registry   *registry.Store
	logger     zerolog.Logger

	// sem bounds concurrent connections when non-nil.
	sem chan struct{}

	mu     sync.Mutex
	ln     net.Listener
	closed atomic.Bool
}

// NewIngestServer builds a server. maxConns > 0 caps concurrently handled
// connections; further connections wait in the kernel backlog.
func NewIngestServer(deps Deps, maxConns int) *IngestServer {
	if deps.Classifier == nil {
		deps.Classifier = classify.New(classify.DefaultLevel)
	}
	if deps.Stats == nil {
		deps.Stats = stats.NewRecorder()
	}
	if deps.Registry == nil {
		deps.Registry = registry.NewStore()
	}

	s := &IngestServer{
		sink:       deps.Sink,
		classifier: deps.Classifier,
		metrics:    deps.Metrics,
		stats:      deps.Stats,
		registry:   deps.Registry,
		logger:     deps.Logger.With().Str("component", "tcp-ingest").Logger(),
	}
	if maxConns > 0 {
		s.sem = make(chan struct{}, maxConns)
	}
	return s
}

// Listen binds addr. It must be called once before Serve.
func (s *IngestServer) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *IngestServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts connections until ctx is cancelled or Close is called, and
// then returns nil. A failed accept is logged and retried.
func (s *IngestServer) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return errors.New("serve: not listening")
	}
	return s.serve(ctx, ln)
}

// Close stops accepting. Open connections are left to finish on their own.
func (s *IngestServer) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return nil
	}
	return ln.Close()
}

func (s *IngestServer) serve(ctx context.Context, ln net.Listener) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			s.closed.Store(true)
			ln.Close()
		case <-stop:
		}
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("TCP log receiver listening")

	var tempDelay time.Duration
	for {
		if s.sem != nil {
			select {
			case s.sem <- struct{}{}:
			case <-ctx.Done():
				return nil
			}
		}

		conn, err := ln.Accept()
		if err != nil {
			s.release()
			if s.closed.Load() {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}

			s.metrics.AcceptError()
			s.logger.Error().Err(err).Msg("Failed to accept TCP connection")

			// Back off like net/http so a persistent failure such as
			// fd exhaustion does not spin.
			if tempDelay == 0 {
				tempDelay = 5 * time.Millisecond
			} else {
				tempDelay *= 2
			}
			if tempDelay > time.Second {
				tempDelay = time.Second
			}
			select {
			case <-time.After(tempDelay):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		tempDelay = 0

		go s.handleConn(conn)
	}
}

func (s *IngestServer) release() {
	if s.sem != nil {
		<-s.sem
	}
}
