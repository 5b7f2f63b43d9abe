package stream

import (
	"io"
	"net/http"

	"github.com/gobwas/ws/wsutil"

	"github.com/scrivy/scam/internal/framebus"
)

const (
	// Boundary separates parts of the multipart stream.
	Boundary = "frame"
	// ContentType is the response type of a multipart stream.
	ContentType = "multipart/x-mixed-replace; boundary=" + Boundary
)

var (
	partHeader  = []byte("--" + Boundary + "\r\nContent-Type: image/jpeg\r\n\r\n")
	partTrailer = []byte("\r\n")
)

// Framer writes one frame to a client in its wire format.
type Framer interface {
	WriteFrame(f *framebus.Frame) error
}

// MultipartFramer writes multipart/x-mixed-replace parts, flushing after each.
type MultipartFramer struct {
	w io.Writer
	f http.Flusher
}

func NewMultipartFramer(w io.Writer) *MultipartFramer {
	f, _ := w.(http.Flusher)
	return &MultipartFramer{w: w, f: f}
}

func (m *MultipartFramer) WriteFrame(f *framebus.Frame) error {
	if _, err := m.w.Write(partHeader); err != nil {
		return err
	}
	if _, err := m.w.Write(f.Data); err != nil {
		return err
	}
	if _, err := m.w.Write(partTrailer); err != nil {
		return err
	}
	if m.f != nil {
		m.f.Flush()
	}
	return nil
}

// WSFramer sends each frame as one binary websocket message.
type WSFramer struct {
	conn io.Writer
}

func NewWSFramer(conn io.Writer) *WSFramer {
	return &WSFramer{conn: conn}
}

func (w *WSFramer) WriteFrame(f *framebus.Frame) error {
	return wsutil.WriteServerBinary(w.conn, f.Data)
}
