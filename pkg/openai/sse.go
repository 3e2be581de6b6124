package openai

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

type sseEvent struct {
	name string
	data string
}

// sseReader splits an event stream into data payloads. Lines are buffered
// across reads, so a payload split over several network chunks comes out
// whole. Every data line is its own payload; the event name set by an
// "event:" line applies until the next blank line.
type sseReader struct {
	br   *bufio.Reader
	name string
}

func newSSEReader(r io.Reader) *sseReader {
	return &sseReader{br: bufio.NewReader(r)}
}

// Next returns io.EOF once the stream is exhausted.
func (s *sseReader) Next() (sseEvent, error) {
	for {
		line, err := s.br.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return sseEvent{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			s.name = ""
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			s.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			return sseEvent{name: s.name, data: strings.TrimSpace(strings.TrimPrefix(line, "data:"))}, nil
		}
	}
}
