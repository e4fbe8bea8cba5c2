package process

import (
	"io"

	"go.uber.org/multierr"
	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"
)

// decodeReader returns r decoding from e into UTF-8, or r itself for a nil encoding.
func decodeReader(r io.Reader, e encoding.Encoding) io.Reader {
	if e == nil {
		return r
	}
	return transform.NewReader(r, e.NewDecoder())
}

type encodingWriteCloser struct {
	enc *transform.Writer
	w   io.WriteCloser
}

func (e *encodingWriteCloser) Write(p []byte) (int, error) { return e.enc.Write(p) }

func (e *encodingWriteCloser) Close() error {
	return multierr.Append(e.enc.Close(), e.w.Close())
}

// encodeWriter returns a writer encoding UTF-8 text written to it with e before writing it to w.
func encodeWriter(w io.WriteCloser, e encoding.Encoding) io.WriteCloser {
	if e == nil {
		return w
	}
	return &encodingWriteCloser{enc: transform.NewWriter(w, e.NewEncoder()), w: w}
}
