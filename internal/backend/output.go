package backend

import "bytes"

// cappedBuffer keeps the first limit bytes written to it and drops the rest.
// Writes never fail, so a chatty child is not killed by a broken pipe before
// it can be reaped.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if room := b.limit - b.buf.Len(); room < len(p) {
		b.truncated = true
		if room <= 0 {
			return n, nil
		}
		p = p[:room]
	}
	b.buf.Write(p)
	return n, nil
}

func (b *cappedBuffer) Bytes() []byte { return b.buf.Bytes() }

func (b *cappedBuffer) String() string { return b.buf.String() }

func (b *cappedBuffer) Len() int { return b.buf.Len() }

// Truncated reports whether anything was dropped.
func (b *cappedBuffer) Truncated() bool { return b.truncated }
