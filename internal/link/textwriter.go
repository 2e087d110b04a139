package link

import (
	"context"
	"strconv"
)

// Writer is the part of Service used by TextWriter.
type Writer interface {
	Write(ctx context.Context, payload []byte) error
}

// TextWriter formats values as text and writes them to a link. WriteLine
// terminates the text with the frame delimiter so the peer sees one frame.
type TextWriter struct {
	w     Writer
	delim byte
}

// NewTextWriter returns a TextWriter that terminates lines with delim.
func NewTextWriter(w Writer, delim byte) *TextWriter {
	return &TextWriter{w: w, delim: delim}
}

// TextWriterFor returns a TextWriter using the service's configured delimiter.
func TextWriterFor(s *Service) *TextWriter {
	return NewTextWriter(s, s.Config().Delimiter)
}

func (t *TextWriter) WriteString(ctx context.Context, text string) error {
	return t.w.Write(ctx, []byte(text))
}

func (t *TextWriter) WriteInt(ctx context.Context, n int) error {
	return t.w.Write(ctx, strconv.AppendInt(nil, int64(n), 10))
}

func (t *TextWriter) WriteRune(ctx context.Context, r rune) error {
	return t.w.Write(ctx, []byte(string(r)))
}

// WriteLine writes text followed by the delimiter as a single payload.
func (t *TextWriter) WriteLine(ctx context.Context, text string) error {
	buf := make([]byte, 0, len(text)+1)
	buf = append(buf, text...)
	buf = append(buf, t.delim)
	return t.w.Write(ctx, buf)
}
