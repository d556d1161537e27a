package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxLineSize bounds a single control line. A peer that streams this much
// without a delimiter is not speaking the protocol.
const MaxLineSize = 1 << 20

// ErrLineTooLong is returned when a control line exceeds MaxLineSize.
var ErrLineTooLong = errors.New("protocol: line exceeds maximum length")

// FrameReader reads one stream that interleaves newline-delimited control
// lines with raw payload segments. Unlike a general buffered reader it
// never over-reads past what the caller asked for conceptually: bytes
// buffered while hunting for a delimiter are handed back first by
// ReadFull, so a handshake line followed immediately by payload bytes is
// split correctly no matter how the kernel chunked them.
type FrameReader struct {
	r   io.Reader
	buf []byte
}

// NewFrameReader wraps r. The reader owns no deadline handling; callers
// set deadlines on the underlying connection.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r}
}

// ReadLine returns the next complete line without its trailing newline.
// Empty lines are skipped as keep-alive tolerance. It reads from the
// underlying stream only when the buffer holds no complete line.
func (fr *FrameReader) ReadLine() ([]byte, error) {
	for {
		if i := bytes.IndexByte(fr.buf, '\n'); i >= 0 {
			line := fr.buf[:i]
			fr.buf = fr.buf[i+1:]
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			return line, nil
		}
		if len(fr.buf) > MaxLineSize {
			return nil, ErrLineTooLong
		}
		chunk := make([]byte, 4096)
		n, err := fr.r.Read(chunk)
		if n > 0 {
			fr.buf = append(fr.buf, chunk[:n]...)
			continue
		}
		if err != nil {
			return nil, err
		}
	}
}

// ReadFull fills p with exactly len(p) raw payload bytes, consuming any
// buffered remainder before touching the underlying stream. A short
// stream yields io.ErrUnexpectedEOF with the partial count.
func (fr *FrameReader) ReadFull(p []byte) (int, error) {
	n := copy(p, fr.buf)
	fr.buf = fr.buf[n:]
	if n == len(p) {
		return n, nil
	}
	m, err := io.ReadFull(fr.r, p[n:])
	return n + m, err
}

// Buffered reports how many bytes are held but not yet consumed.
func (fr *FrameReader) Buffered() int {
	return len(fr.buf)
}

// Discard drops any unconsumed buffered bytes. A fresh synchronous
// exchange must not be polluted by a stale partial line.
func (fr *FrameReader) Discard() {
	fr.buf = nil
}

// ReadMessage reads one line and decodes it as JSON into v.
func (fr *FrameReader) ReadMessage(v any) error {
	line, err := fr.ReadLine()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(line, v); err != nil {
		return fmt.Errorf("protocol: decode line: %w", err)
	}
	return nil
}

// WriteMessage encodes v as a single JSON line terminated by '\n' and
// writes it to w. The encoding never contains a raw newline.
func WriteMessage(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("protocol: encode message: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("protocol: write message: %w", err)
	}
	return nil
}
