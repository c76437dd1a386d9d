package sink

import (
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/coffersTech/logrelay/internal/model"
	"github.com/coffersTech/logrelay/internal/session"
)

// Console writes every record as a zerolog event. zerolog serializes each
// event into a single Write call, so concurrent callers never interleave lines.
type Console struct {
	logger zerolog.Logger
}

// NewConsole returns a Console writing JSON to w, or a human readable layout when pretty is set.
// A nil w writes to stdout.
func NewConsole(w io.Writer, pretty bool, sess session.Session) *Console {
	if w == nil {
		w = os.Stdout
	}
	if pretty {
		w = zerolog.ConsoleWriter{Out: w}
	}
	l := zerolog.New(w).With().
		Timestamp().
		Str("session", sess.ID.String()).
		Logger()
	return &Console{logger: l}
}

func (c *Console) Log(entity string, text TextLog) error {
	c.logger.WithLevel(zerologLevel(text.Level)).
		Str("entity", entity).
		Msg(text.Message)
	return nil
}

func (c *Console) Close() error { return nil }

func zerologLevel(l model.Level) zerolog.Level {
	switch l {
	case model.LevelError:
		return zerolog.ErrorLevel
	case model.LevelWarn:
		return zerolog.WarnLevel
	case model.LevelInfo:
		return zerolog.InfoLevel
	case model.LevelDebug:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}
