// Package live maintains the server-sent-event channels that keep the
// replica current between full refreshes. Each channel owns a cursor (the
// greatest updated_at it has applied) and reconnects with exponential
// backoff, re-reading the cursor from the store so nothing is replayed twice
// or skipped.
package live

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// ServerEvent is one decoded server-sent event.
type ServerEvent struct {
	Name string
	Data []byte
}

// Decoder reads server-sent events off a stream. It understands the subset
// the server emits: "event:" and "data:" fields, blank-line dispatch, ":"
// comment lines (heartbeats) skipped.
type Decoder struct {
	r *bufio.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next blocks until a complete event arrives. Returns io.EOF when the stream
// closes cleanly.
func (d *Decoder) Next() (*ServerEvent, error) {
	evt := &ServerEvent{}
	var data bytes.Buffer
	dispatched := false

	for {
		line, err := d.r.ReadString('\n')
		if err != nil {
			if err == io.EOF && dispatched {
				break
			}
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if dispatched {
				evt.Data = data.Bytes()
				return evt, nil
			}
		case strings.HasPrefix(line, ":"):
			// comment / heartbeat
		case strings.HasPrefix(line, "event:"):
			evt.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			dispatched = true
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			dispatched = true
		}
	}

	evt.Data = data.Bytes()
	return evt, nil
}
