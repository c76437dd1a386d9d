// Package extract pulls the source name and message out of one JSON log line.
package extract

import (
	"errors"
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/valyala/fastjson"
)

// UnknownSource is reported when a line carries no usable container_name.
const UnknownSource = "unknown_container"

// Field names understood on the wire. Anything else is ignored.
const (
	fieldSource  = "container_name"
	fieldMessage = "message"
	fieldMsg     = "msg"
)

var (
	errInvalidUTF8   = errors.New("invalid UTF-8")
	errLoneSurrogate = errors.New("lone surrogate in \\u escape")
)

// Entry is the part of a log line the pipeline cares about.
type Entry struct {
	Source  string
	Message string
}

// Extractor parses lines with pooled fastjson parsers. The zero value is ready to use
// and safe for concurrent use.
type Extractor struct {
	parser fastjson.ParserPool
}

// Extract parses line as JSON.
// It returns an error for malformed JSON, and ok=false when the document
// has no string message. "msg" is only consulted when "message" is absent.
// When a key repeats, the last occurrence wins.
func (e *Extractor) Extract(line []byte) (entry Entry, ok bool, err error) {
	if err := validate(line); err != nil {
		return Entry{}, false, fmt.Errorf("invalid JSON: %w", err)
	}

	p := e.parser.Get()
	defer e.parser.Put(p)

	v, err := p.ParseBytes(line)
	if err != nil {
		return Entry{}, false, fmt.Errorf("invalid JSON: %w", err)
	}
	o, err := v.Object()
	if err != nil {
		return Entry{}, false, nil
	}

	var source, message, msg *fastjson.Value
	o.Visit(func(k []byte, f *fastjson.Value) {
		switch string(k) {
		case fieldSource:
			source = f
		case fieldMessage:
			message = f
		case fieldMsg:
			msg = f
		}
	})

	if message == nil {
		message = msg
	}
	text, found := stringValue(message)
	if !found {
		return Entry{}, false, nil
	}

	name, found := stringValue(source)
	if !found {
		name = UnknownSource
	}

	return Entry{Source: name, Message: text}, true, nil
}

// validate rejects what the fastjson parser lets through: invalid UTF-8,
// control characters, bad escapes and unpaired surrogates.
func validate(line []byte) error {
	if !utf8.Valid(line) {
		return errInvalidUTF8
	}
	if err := fastjson.ValidateBytes(line); err != nil {
		return err
	}
	return checkSurrogates(line)
}

// checkSurrogates expects syntactically valid JSON, where a backslash only
// appears inside a string and starts an escape.
func checkSurrogates(b []byte) error {
	for i := 0; i < len(b); i++ {
		if b[i] != '\\' {
			continue
		}
		i++
		if b[i] != 'u' {
			continue
		}
		r := hex4(b[i+1 : i+5])
		i += 4
		switch {
		case r >= 0xdc00 && r <= 0xdfff:
			return errLoneSurrogate
		case r >= 0xd800 && r <= 0xdbff:
			if i+6 >= len(b) || b[i+1] != '\\' || b[i+2] != 'u' {
				return errLoneSurrogate
			}
			if lo := hex4(b[i+3 : i+7]); lo < 0xdc00 || lo > 0xdfff {
				return errLoneSurrogate
			}
			i += 6
		}
	}
	return nil
}

func hex4(b []byte) uint64 {
	n, _ := strconv.ParseUint(string(b), 16, 32)
	return n
}

// stringValue copies out a string value. Values owned by the parser are
// only valid until it is returned to the pool.
func stringValue(f *fastjson.Value) (string, bool) {
	if f == nil || f.Type() != fastjson.TypeString {
		return "", false
	}
	b, err := f.StringBytes()
	if err != nil {
		return "", false
	}
	return string(b), true
}
