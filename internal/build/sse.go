package build

import (
	"io"
	"net/http"
	"strings"
)

// WriteSSE frames payload as one server-sent event. Embedded line breaks become
// extra data lines of the same event.
func WriteSSE(w io.Writer, payload string) error {
	payload = strings.ReplaceAll(payload, "\r\n", "\n")
	payload = strings.ReplaceAll(payload, "\r", "\n")

	var b strings.Builder
	for _, line := range strings.Split(payload, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	_, err := io.WriteString(w, b.String())
	return err
}

// SSEWriter is a Sink writing text/event-stream frames, flushing after each.
type SSEWriter struct {
	w       io.Writer
	flusher http.Flusher
}

func NewSSEWriter(w io.Writer) *SSEWriter {
	f, _ := w.(http.Flusher)
	return &SSEWriter{w: w, flusher: f}
}

func (s *SSEWriter) Send(ev Event) error {
	if err := WriteSSE(s.w, ev.Payload()); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}
