package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
)

const readChunkSize = 32 * 1024

// Decoder reassembles events from arbitrarily split chunks. The only state it keeps is the current partial line.
type Decoder struct {
	buf    []byte
	handle func(Event)
}

// NewDecoder creates a decoder that calls handle once per well-formed event, in arrival order
func NewDecoder(handle func(Event)) *Decoder {
	return &Decoder{handle: handle}
}

// Write feeds a chunk. Every complete line in the buffer is parsed and dispatched; the remainder waits for more input.
func (d *Decoder) Write(chunk []byte) (int, error) {
	d.buf = append(d.buf, chunk...)
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		d.dispatch(d.buf[:i])
		d.buf = d.buf[i+1:]
	}
	// Release the backing array once every line has been consumed
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return len(chunk), nil
}

// Flush parses whatever is left in the buffer as a final line. Call it once the stream has ended.
func (d *Decoder) Flush() {
	if len(d.buf) > 0 {
		d.dispatch(d.buf)
	}
	d.buf = nil
}

func (d *Decoder) dispatch(line []byte) {
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}
	ev, err := ParseEvent(line)
	if err != nil {
		log.Printf("Skipping malformed stream line: %v", err)
		return
	}
	d.handle(ev)
}

// Decode reads r until EOF and dispatches every event to handle. r is closed on every return path. A read error or
// context cancellation is returned after the events received so far have been dispatched; the buffered partial line is
// only flushed on a clean EOF.
func Decode(ctx context.Context, r io.ReadCloser, handle func(Event)) error {
	defer func() {
		if err := r.Close(); err != nil {
			log.Printf("Failed to close event stream: %v", err)
		}
	}()

	dec := NewDecoder(handle)
	chunk := make([]byte, readChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("stopped reading event stream: %w", err)
		}
		n, err := r.Read(chunk)
		if n > 0 {
			_, _ = dec.Write(chunk[:n])
		}
		if errors.Is(err, io.EOF) {
			dec.Flush()
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event stream: %w", err)
		}
	}
}
