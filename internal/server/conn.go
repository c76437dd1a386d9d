package server

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"

	"github.com/coffersTech/logrelay/internal/model"
)

// handleConn reads newline-delimited JSON from conn until EOF or a read error.
// Lines have no length limit: a peer that never sends '\n' holds the
// connection open without producing records.
func (s *IngestServer) handleConn(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	tracked := s.registry.Register(remote)
	s.metrics.ConnectionOpened()
	s.logger.Debug().Str("remote", remote).Msg("connection opened")

	defer func() {
		conn.Close()
		s.registry.Remove(tracked)
		s.metrics.ConnectionClosed()
		s.release()
		s.logger.Debug().Str("remote", remote).Msg("connection closed")
	}()

	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			tracked.Line(s.processLine(remote, trimEOL(line)))
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debug().Str("remote", remote).Err(err).Msg("read failed")
			}
			return
		}
	}
}

// processLine extracts, classifies and forwards one line. It reports
// whether a record was handed to the sink.
func (s *IngestServer) processLine(remote string, line []byte) bool {
	s.metrics.Line()

	entry, ok, err := s.extractor.Extract(line)
	if err != nil {
		s.metrics.ParseError()
		s.stats.ParseError()
		s.logger.Warn().Str("remote", remote).Err(err).Msg("Invalid JSON")
		return false
	}
	if !ok {
		// No message, nothing to log.
		s.metrics.Skipped()
		s.stats.Skipped()
		return false
	}

	rec := model.LogRecord{
		Source:  entry.Source,
		Message: entry.Message,
		Level:   s.classifier.Classify(entry.Message),
	}

	// Delivery is best-effort; the result only feeds the counters.
	err = s.sink.LogRecord(rec)
	s.metrics.Forwarded(rec.Level, err)
	s.stats.Record(rec)
	return true
}

func trimEOL(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte{'\n'})
	return bytes.TrimSuffix(line, []byte{'\r'})
}
