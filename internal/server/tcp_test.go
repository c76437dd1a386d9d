package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coffersTech/logrelay/internal/classify"
	"github.com/coffersTech/logrelay/internal/metrics"
	"github.com/coffersTech/logrelay/internal/model"
	"github.com/coffersTech/logrelay/internal/registry"
	"github.com/coffersTech/logrelay/internal/session"
	"github.com/coffersTech/logrelay/internal/sink"
	"github.com/coffersTech/logrelay/internal/stats"
)

const waitFor = 2 * time.Second

type harness struct {
	srv      *IngestServer
	mem      *sink.Memory
	stats    *stats.Recorder
	registry *registry.Store
	addr     string
	cancel   context.CancelFunc
	done     chan error
}

func startServer(t *testing.T, maxConns int) *harness {
	t.Helper()

	mem := sink.NewMemory()
	h := &harness{
		mem:      mem,
		stats:    stats.NewRecorder(),
		registry: registry.NewStore(),
		done:     make(chan error, 1),
	}
	h.srv = NewIngestServer(Deps{
		Sink:       sink.NewHandle(session.New("test"), mem),
		Classifier: classify.New(classify.DefaultLevel),
		Metrics:    metrics.New(prometheus.NewRegistry()),
		Stats:      h.stats,
		Registry:   h.registry,
		Logger:     zerolog.Nop(),
	}, maxConns)
	require.NoError(t, h.srv.Listen("127.0.0.1:0"))
	h.addr = h.srv.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.srv.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-h.done:
			assert.NoError(t, err)
		case <-time.After(waitFor):
			t.Error("Serve did not return after cancel")
		}
	})
	return h
}

func (h *harness) dial(t *testing.T) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", h.addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (h *harness) waitRecords(t *testing.T, n int) []model.LogRecord {
	t.Helper()
	require.Eventually(t, func() bool { return h.mem.Len() >= n }, waitFor, 5*time.Millisecond)
	return h.mem.Records()
}

func send(t *testing.T, conn net.Conn, lines ...string) {
	t.Helper()
	_, err := conn.Write([]byte(strings.Join(lines, "")))
	require.NoError(t, err)
}

func TestIngest_EndToEnd(t *testing.T) {
	h := startServer(t, 0)
	conn := h.dial(t)

	send(t, conn, `{"container_name":"svc1","message":"something is fine here"}`+"\n")

	got := h.waitRecords(t, 1)
	assert.Equal(t, model.LogRecord{
		Source:  "svc1",
		Message: "something is fine here",
		Level:   model.LevelTrace,
	}, got[0])
}

func TestIngest_FieldsAndClassification(t *testing.T) {
	h := startServer(t, 0)
	conn := h.dial(t)

	send(t, conn,
		`{"container_name":"api","msg":"an error occurred"}`+"\n",
		`{"message":"warning: then an error happened"}`+"\n",
		`{"container_name":"api","message":"terrorist activity"}`+"\n",
		`{"container_name":"db","message":"INFO ready","level":"error"}`+"\n",
	)

	got := h.waitRecords(t, 4)
	assert.Equal(t, []model.LogRecord{
		{Source: "api", Message: "an error occurred", Level: model.LevelError},
		{Source: "unknown_container", Message: "warning: then an error happened", Level: model.LevelWarn},
		{Source: "api", Message: "terrorist activity", Level: model.LevelTrace},
		{Source: "db", Message: "INFO ready", Level: model.LevelInfo},
	}, got)
}

func TestIngest_MalformedLineDoesNotStopConnection(t *testing.T) {
	h := startServer(t, 0)
	conn := h.dial(t)

	send(t, conn,
		"not-json\n",
		`{"container_name":"svc1"}`+"\n",
		`{"container_name":"svc1","message":"after the bad line"}`+"\n",
	)

	got := h.waitRecords(t, 1)
	require.Len(t, got, 1)
	assert.Equal(t, "after the bad line", got[0].Message)

	s := h.stats.Snapshot()
	assert.Equal(t, int64(1), s.ParseErrors)
	assert.Equal(t, int64(1), s.Skipped)
	assert.Equal(t, int64(1), s.TotalRecords)
}

func TestIngest_PreservesOrderPerConnection(t *testing.T) {
	h := startServer(t, 0)
	conn := h.dial(t)

	const n = 500
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, `{"container_name":"seq","message":"line %d"}`+"\n", i)
	}
	send(t, conn, b.String())

	got := h.waitRecords(t, n)
	for i, rec := range got {
		assert.Equal(t, fmt.Sprintf("line %d", i), rec.Message)
	}
}

func TestIngest_CRLFAndUnterminatedFinalLine(t *testing.T) {
	h := startServer(t, 0)
	conn := h.dial(t)

	send(t, conn,
		`{"message":"windows line"}`+"\r\n",
		`{"message":"no newline at end"}`,
	)
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())

	got := h.waitRecords(t, 2)
	assert.Equal(t, "windows line", got[0].Message)
	assert.Equal(t, "no newline at end", got[1].Message)
}

func TestIngest_LongLine(t *testing.T) {
	h := startServer(t, 0)
	conn := h.dial(t)

	long := strings.Repeat("x", 1<<20)
	send(t, conn, `{"message":"`+long+`"}`+"\n")

	got := h.waitRecords(t, 1)
	assert.Len(t, got[0].Message, 1<<20)
}

func TestIngest_ConnectionIsolation(t *testing.T) {
	h := startServer(t, 0)

	a := h.dial(t)
	b := h.dial(t)

	send(t, b, `{"container_name":"b","message":"first"}`+"\n")
	h.waitRecords(t, 1)

	// A leaves a partial line behind and disconnects abruptly.
	send(t, a, `{"container_name":"a","mess`)
	require.NoError(t, a.(*net.TCPConn).SetLinger(0))
	require.NoError(t, a.Close())

	send(t, b, `{"container_name":"b","message":"second"}`+"\n")

	require.Eventually(t, func() bool {
		for _, r := range h.mem.Records() {
			if r.Message == "second" {
				return true
			}
		}
		return false
	}, waitFor, 5*time.Millisecond)

	for _, r := range h.mem.Records() {
		assert.Equal(t, "b", r.Source)
	}
}

func TestIngest_ManyConnections(t *testing.T) {
	h := startServer(t, 0)

	const conns, perConn = 20, 25
	var wg sync.WaitGroup
	for c := 0; c < conns; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			conn, err := net.Dial("tcp", h.addr)
			if !assert.NoError(t, err) {
				return
			}
			defer conn.Close()
			for i := 0; i < perConn; i++ {
				fmt.Fprintf(conn, `{"container_name":"c%d","message":"debug %d"}`+"\n", c, i)
			}
		}(c)
	}
	wg.Wait()

	got := h.waitRecords(t, conns*perConn)

	// Per-connection order holds even though connections interleave.
	next := make(map[string]int)
	for _, r := range got {
		assert.Equal(t, model.LevelDebug, r.Level)
		assert.Equal(t, fmt.Sprintf("debug %d", next[r.Source]), r.Message)
		next[r.Source]++
	}
	assert.Len(t, next, conns)
}

func TestIngest_RegistryTracksConnections(t *testing.T) {
	h := startServer(t, 0)
	conn := h.dial(t)

	send(t, conn, `{"message":"hello"}`+"\n", "bad\n")
	h.waitRecords(t, 1)

	require.Eventually(t, func() bool {
		list := h.registry.List()
		return len(list) == 1 && list[0].Lines == 2
	}, waitFor, 5*time.Millisecond)
	list := h.registry.List()
	assert.Equal(t, int64(1), list[0].Records)
	assert.Equal(t, conn.LocalAddr().String(), list[0].Remote)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return h.registry.Len() == 0 }, waitFor, 5*time.Millisecond)
}

func TestIngest_MaxConnections(t *testing.T) {
	h := startServer(t, 1)

	first := h.dial(t)
	send(t, first, `{"message":"from first"}`+"\n")
	h.waitRecords(t, 1)

	second := h.dial(t)
	send(t, second, `{"message":"from second"}`+"\n")

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, h.mem.Len(), "second connection must wait for a free slot")

	require.NoError(t, first.Close())
	got := h.waitRecords(t, 2)
	assert.Equal(t, "from second", got[1].Message)
}

func TestListen_AddressInUse(t *testing.T) {
	h := startServer(t, 0)

	other := NewIngestServer(Deps{Logger: zerolog.Nop()}, 0)
	err := other.Listen(h.addr)
	assert.Error(t, err)
	assert.Nil(t, other.Addr())
}

func TestServe_NotListening(t *testing.T) {
	s := NewIngestServer(Deps{Logger: zerolog.Nop()}, 0)
	assert.Error(t, s.Serve(context.Background()))
	assert.NoError(t, s.Close())
}

func TestServe_CloseStops(t *testing.T) {
	s := NewIngestServer(Deps{Logger: zerolog.Nop()}, 0)
	require.NoError(t, s.Listen("127.0.0.1:0"))

	done := make(chan error, 1)
	go func() { done <- s.Serve(context.Background()) }()

	// Give Serve time to block in Accept.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Serve did not return after Close")
	}
}

// flakyListener fails a number of Accept calls before handing out conns.
type flakyListener struct {
	mu       sync.Mutex
	failures int
	conns    chan net.Conn
	closed   chan struct{}
	once     sync.Once
}

func (l *flakyListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	if l.failures > 0 {
		l.failures--
		l.mu.Unlock()
		return nil, errors.New("accept: too many open files")
	}
	l.mu.Unlock()

	select {
	case c := <-l.conns:
		return c, nil
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

func (l *flakyListener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *flakyListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9000}
}

func TestServe_AcceptErrorsAreNotFatal(t *testing.T) {
	mem := sink.NewMemory()
	s := NewIngestServer(Deps{
		Sink:   sink.NewHandle(session.New("test"), mem),
		Logger: zerolog.Nop(),
	}, 0)

	ln := &flakyListener{
		failures: 3,
		conns:    make(chan net.Conn, 1),
		closed:   make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.serve(ctx, ln) }()

	client, server := net.Pipe()
	ln.conns <- server
	go func() {
		fmt.Fprintln(client, `{"container_name":"pipe","message":"survived accept errors"}`)
		client.Close()
	}()

	require.Eventually(t, func() bool { return mem.Len() == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, "pipe", mem.Records()[0].Source)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("serve did not return after cancel")
	}
}
