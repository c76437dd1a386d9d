// Package classify maps free-text log messages to a severity level.
package classify

import (
	"strings"
	"unicode"

	"github.com/coffersTech/logrelay/internal/model"
)

// DefaultLevel applies to messages that contain no level word.
const DefaultLevel = model.LevelTrace

// levelWords lists the recognised words; maxWordLen is the longest.
var levelWords = []struct {
	word  string
	level model.Level
}{
	{"error", model.LevelError},
	{"warn", model.LevelWarn},
	{"warning", model.LevelWarn},
	{"info", model.LevelInfo},
	{"debug", model.LevelDebug},
	{"trace", model.LevelTrace},
}

const maxWordLen = len("warning")

// Classifier is immutable after construction and safe to share across goroutines.
type Classifier struct {
	fallback model.Level
}

// New returns a Classifier that reports fallback for unclassified messages.
func New(fallback model.Level) *Classifier {
	return &Classifier{fallback: fallback}
}

// Default returns the level used when no token matches.
func (c *Classifier) Default() model.Level {
	return c.fallback
}

// Classify returns the level named by the leftmost level word in msg.
// Words are maximal runs of Unicode letters, digits, marks and connector
// punctuation, so "error_rate" and "erroré" are not level words.
func (c *Classifier) Classify(msg string) model.Level {
	for {
		start := strings.IndexFunc(msg, isWordRune)
		if start < 0 {
			return c.fallback
		}
		msg = msg[start:]

		end := strings.IndexFunc(msg, isBoundary)
		if end < 0 {
			end = len(msg)
		}
		if lvl, ok := lookup(msg[:end]); ok {
			return lvl
		}
		msg = msg[end:]
	}
}

func lookup(token string) (model.Level, bool) {
	if len(token) > maxWordLen {
		return 0, false
	}
	for _, w := range levelWords {
		if strings.EqualFold(token, w.word) {
			return w.level, true
		}
	}
	return 0, false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r) || unicode.Is(unicode.Pc, r)
}

func isBoundary(r rune) bool {
	return !isWordRune(r)
}
