package sink

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"

	"github.com/coffersTech/logrelay/internal/session"
)

// HTTPOptions configures an HTTP batching transport.
type HTTPOptions struct {
	URL           string
	APIKey        string
	BatchSize     int           // records per POST, default 100
	FlushInterval time.Duration // default 1s
	QueueSize     int           // queued records, default 10000
	MemoryLimit   int64         // queued bytes, 0 means no byte limit
	Compress      bool          // zstd request bodies
	Client        *http.Client  // default: 5s timeout
}

// HTTP queues records in memory and POSTs them as JSON arrays to
// <URL>/api/ingest. Log never blocks: when the queue is full or the byte
// budget is spent the record is dropped.
type HTTP struct {
	opts    HTTPOptions
	session session.Session
	logger  zerolog.Logger
	encoder *zstd.Encoder

	queue   chan []byte
	pending atomic.Int64
	dropped atomic.Int64

	// mu orders enqueues before close: once closed is set under the write
	// lock no Log can add to queue.
	mu     sync.RWMutex
	closed bool

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewHTTP starts the background sender.
func NewHTTP(opts HTTPOptions, sess session.Session, logger zerolog.Logger) (*HTTP, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Second
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 10000
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 5 * time.Second}
	}

	h := &HTTP{
		opts:    opts,
		session: sess,
		logger:  logger.With().Str("component", "http-sink").Logger(),
		queue:   make(chan []byte, opts.QueueSize),
		done:    make(chan struct{}),
	}

	if opts.Compress {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		h.encoder = enc
	}

	h.wg.Add(1)
	go h.runLoop()

	return h, nil
}

func (h *HTTP) Log(entity string, text TextLog) error {
	data, err := json.Marshal(wireRecord{
		Timestamp: time.Now().UnixNano(),
		Entity:    entity,
		Level:     text.Level,
		Message:   text.Message,
		SessionID: h.session.ID.String(),
	})
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrClosed
	}

	size := int64(len(data))
	if n := h.pending.Add(size); h.opts.MemoryLimit > 0 && n > h.opts.MemoryLimit {
		return h.drop(size)
	}

	select {
	case h.queue <- data:
		return nil
	default:
		return h.drop(size)
	}
}

func (h *HTTP) drop(size int64) error {
	h.pending.Add(-size)
	h.dropped.Add(1)
	return ErrQueueFull
}

// Pending returns the number of queued bytes not yet taken by the sender.
func (h *HTTP) Pending() int64 {
	return h.pending.Load()
}

// Dropped returns how many records were rejected because the queue was full.
func (h *HTTP) Dropped() int64 {
	return h.dropped.Load()
}

// Close flushes queued records and stops the sender.
func (h *HTTP) Close() error {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		h.mu.Unlock()

		close(h.done)
		h.wg.Wait()
		if h.encoder != nil {
			h.encoder.Close()
		}
	})
	return nil
}

func (h *HTTP) runLoop() {
	defer h.wg.Done()
	ticker := time.NewTicker(h.opts.FlushInterval)
	defer ticker.Stop()

	var batch [][]byte

	take := func(data []byte) {
		h.pending.Add(-int64(len(data)))
		batch = append(batch, data)
	}

	send := func() {
		if len(batch) == 0 {
			return
		}
		h.post(batch)
		batch = nil
	}

	for {
		select {
		case data := <-h.queue:
			take(data)
			if len(batch) >= h.opts.BatchSize {
				send()
			}
		case <-ticker.C:
			send()
		case <-h.done:
			for {
				select {
				case data := <-h.queue:
					take(data)
					if len(batch) >= h.opts.BatchSize {
						send()
					}
				default:
					send()
					return
				}
			}
		}
	}
}

func (h *HTTP) post(batch [][]byte) {
	// Encode as JSON Array: [ {}, {}, {} ]
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, b := range batch {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(b)
	}
	buf.WriteByte(']')

	body := buf.Bytes()
	if h.encoder != nil {
		body = h.encoder.EncodeAll(body, make([]byte, 0, len(body)/2))
	}

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(h.opts.URL, "/")+"/api/ingest", bytes.NewReader(body))
	if err != nil {
		h.logger.Error().Err(err).Msg("build request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if h.encoder != nil {
		req.Header.Set("Content-Encoding", "zstd")
	}
	if h.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.opts.APIKey)
	}
	req.Header.Set("X-Session-ID", h.session.ID.String())
	req.Header.Set("X-Session-Name", h.session.Name)

	resp, err := h.opts.Client.Do(req)
	if err != nil {
		h.logger.Warn().Err(err).Int("records", len(batch)).Msg("send failed")
		return
	}
	resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		h.logger.Warn().Int("status", resp.StatusCode).Int("records", len(batch)).Msg("send rejected")
	}
}
