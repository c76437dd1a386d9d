package sink

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/coffersTech/logrelay/internal/session"
)

// natsDrainTimeout bounds how long Close waits for buffered publishes.
const natsDrainTimeout = 5 * time.Second

// NATS publishes every record to <prefix>.<entity>. Publishing writes into
// the client's outbound buffer and returns without waiting for the server.
type NATS struct {
	conn         *nats.Conn
	prefix       string
	session      session.Session
	drainTimeout time.Duration
}

// DialNATS connects to url and returns a publisher for subjects under prefix.
// The client reconnects forever; records published while disconnected are
// held in the client's reconnect buffer and dropped when it fills.
func DialNATS(url, prefix string, sess session.Session, logger zerolog.Logger) (*NATS, error) {
	logger = logger.With().Str("component", "nats-sink").Logger()

	nc, err := nats.Connect(url,
		nats.Name("logrelay-"+sess.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DrainTimeout(natsDrainTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}

	return NewNATS(nc, prefix, sess), nil
}

// NewNATS wraps an established connection.
func NewNATS(nc *nats.Conn, prefix string, sess session.Session) *NATS {
	return &NATS{conn: nc, prefix: prefix, session: sess, drainTimeout: natsDrainTimeout}
}

func (n *NATS) Log(entity string, text TextLog) error {
	data, err := json.Marshal(wireRecord{
		Timestamp: time.Now().UnixNano(),
		Entity:    entity,
		Level:     text.Level,
		Message:   text.Message,
		SessionID: n.session.ID.String(),
	})
	if err != nil {
		return err
	}

	msg := nats.NewMsg(Subject(n.prefix, entity))
	msg.Header.Set("Session-Id", n.session.ID.String())
	msg.Header.Set("Level", text.Level.String())
	msg.Data = data
	return n.conn.PublishMsg(msg)
}

// Close flushes pending publishes and waits for the connection to close.
// If the drain does not finish in time the connection is closed anyway.
func (n *NATS) Close() error {
	closed := make(chan struct{})
	n.conn.SetClosedHandler(func(*nats.Conn) { close(closed) })

	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		if errors.Is(err, nats.ErrConnectionClosed) {
			return nil
		}
		return fmt.Errorf("drain nats: %w", err)
	}

	select {
	case <-closed:
		return nil
	case <-time.After(n.drainTimeout + time.Second):
		n.conn.Close()
		return fmt.Errorf("drain nats: timed out after %v", n.drainTimeout)
	}
}

// Subject returns the subject records for entity are published on.
// Characters that carry meaning in NATS subjects are replaced with '_'.
func Subject(prefix, entity string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, entity)
	if token == "" {
		token = "_"
	}
	if prefix == "" {
		return token
	}
	return prefix + "." + token
}
