package router

import (
	"context"
	"unicode/utf8"
)

// Echo answers every message with "Echo: <message>" and never touches a
// backend. It is useful for checking a client's connection handling.
type Echo struct{}

// HandleMessage implements the connection server's handler.
func (Echo) HandleMessage(_ context.Context, msg []byte) []byte {
	text := msg
	if !utf8.Valid(text) {
		text = []byte("<binary>")
	}
	out := make([]byte, 0, len(text)+6)
	out = append(out, "Echo: "...)
	return append(out, text...)
}

// HandleBinary lets non-UTF-8 frames through to HandleMessage.
func (e Echo) HandleBinary(ctx context.Context, msg []byte) []byte {
	return e.HandleMessage(ctx, msg)
}
