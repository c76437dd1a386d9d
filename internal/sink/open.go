package sink

import (
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/coffersTech/logrelay/internal/session"
)

// Sink kinds accepted by Open.
const (
	KindConsole = "console"
	KindHTTP    = "http"
	KindNATS    = "nats"
	KindMemory  = "memory"
)

// ErrUnknownKind is returned by Open for an unsupported sink kind.
var ErrUnknownKind = errors.New("sink: unknown kind")

// Options selects and configures the transports behind a Handle.
type Options struct {
	Kinds []string

	ConsoleWriter io.Writer
	ConsolePretty bool

	HTTP HTTPOptions

	NATSURL     string
	NATSSubject string
}

// Open builds every transport named in opts.Kinds and binds them to sess.
// With more than one kind the handle fans out to all of them. If any
// transport fails to start, the ones already started are closed.
func Open(opts Options, sess session.Session, logger zerolog.Logger) (Handle, error) {
	if len(opts.Kinds) == 0 {
		opts.Kinds = []string{KindConsole}
	}

	var sinks Fanout
	for _, kind := range opts.Kinds {
		s, err := open(kind, opts, sess, logger)
		if err != nil {
			_ = sinks.Close()
			return Handle{}, err
		}
		sinks = append(sinks, s)
	}

	if len(sinks) == 1 {
		return NewHandle(sess, sinks[0]), nil
	}
	return NewHandle(sess, sinks), nil
}

func open(kind string, opts Options, sess session.Session, logger zerolog.Logger) (Sink, error) {
	switch kind {
	case KindConsole:
		return NewConsole(opts.ConsoleWriter, opts.ConsolePretty, sess), nil
	case KindHTTP:
		if opts.HTTP.URL == "" {
			return nil, errors.New("http sink: url is required")
		}
		return NewHTTP(opts.HTTP, sess, logger)
	case KindNATS:
		return DialNATS(opts.NATSURL, opts.NATSSubject, sess, logger)
	case KindMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}
