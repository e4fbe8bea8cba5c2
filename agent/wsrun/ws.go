package wsrun

import (
	"context"
	"unicode/utf8"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const readLimit = 32768

// stdinWriter sends the bytes written to it as stdin messages, split to stay under the read limit.
type stdinWriter struct {
	log  *zap.SugaredLogger
	ctx  context.Context
	conn *websocket.Conn
}

func (w *stdinWriter) Write(b []byte) (int, error) {
	w.log.Debugf("writing %d bytes", len(b))
	// JSON escaping can triple the size of the text, so this is conservative
	writeLimit := readLimit / 4
	left := b
	for len(left) > 0 {
		n := len(left)
		if n > writeLimit {
			n = writeLimit
			// keep multi-byte characters in one message
			for n > 0 && !utf8.RuneStart(left[n]) {
				n--
			}
			if n == 0 {
				n = writeLimit
			}
		}
		err := wsjson.Write(w.ctx, w.conn, requestMessage{Stdin: string(left[:n])})
		if err != nil {
			return len(b) - len(left), err
		}
		left = left[n:]
	}
	return len(b), nil
}

func (w *stdinWriter) Close() error {
	err := wsjson.Write(w.ctx, w.conn, requestMessage{StdinDone: true})
	w.log.Debugw("closed stdin", "Error", err)
	return err
}
