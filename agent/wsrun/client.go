package wsrun

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/guseggert/procrunner/process"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type Client struct {
	HTTPClient *http.Client
	URL        string
	Logger     *zap.SugaredLogger
}

// Run is a process running on the server.
type Run struct {
	log    *zap.SugaredLogger
	conn   *websocket.Conn
	ctx    context.Context
	cancel func()

	handler process.Handler
	result  *process.Result
	stdin   *stdinWriter

	resultCh chan runResult

	closeConnOnce sync.Once
}

type runResult struct {
	res *process.Result
	err error
}

// Start sends req to the server and streams the run's events to h, which may be nil.
// Events are delivered one at a time, in the order the server dispatched them. Their Process field is nil.
func (c *Client) Start(ctx context.Context, req RunRequest, h process.Handler) (*Run, error) {
	c.Logger.Debugw("dialing WebSocket for run", "URL", c.URL)
	wsConn, _, err := websocket.Dial(ctx, c.URL, &websocket.DialOptions{
		HTTPClient:      c.HTTPClient,
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		c.Logger.Debugf("dial error: %s", err)
		return nil, fmt.Errorf("establishing WebSocket conn to run: %w", err)
	}
	wsConn.SetReadLimit(readLimit)

	// the run outlives the context used to start it
	runCtx, cancel := context.WithCancel(context.Background())
	log := c.Logger.Named("run_client")
	r := &Run{
		log:      log,
		conn:     wsConn,
		ctx:      runCtx,
		cancel:   cancel,
		handler:  h,
		result:   process.NewResult(""),
		stdin:    &stdinWriter{log: log.Named("stdin_writer"), ctx: runCtx, conn: wsConn},
		resultCh: make(chan runResult, 1),
	}

	err = wsjson.Write(ctx, wsConn, requestMessage{Req: &req})
	if err != nil {
		r.close(websocket.StatusInternalError, err.Error())
		cancel()
		return nil, fmt.Errorf("writing first message: %w", err)
	}

	go r.readMessages()
	return r, nil
}

// Wait blocks until the run is over and returns its result. The result is built from the streamed events.
func (r *Run) Wait(ctx context.Context) (*process.Result, error) {
	select {
	case res := <-r.resultCh:
		// leave the result for other callers of Wait
		r.resultCh <- res
		return res.res, res.err
	case <-ctx.Done():
		err := ctx.Err()
		r.log.Debugf("wait context done: %s", err)
		return nil, err
	}
}

// Cancel asks the server to cancel the run. It does not wait for the run to end.
func (r *Run) Cancel(ctx context.Context) error {
	return wsjson.Write(ctx, r.conn, requestMessage{Cancel: true})
}

// Stdin returns a writer to the standard input of the remote process. Closing it closes the remote standard input.
// It is only useful if the request set KeepStdinOpen.
func (r *Run) Stdin() io.WriteCloser { return r.stdin }

func (r *Run) WriteStdin(b []byte) error {
	_, err := r.stdin.Write(b)
	return err
}

func (r *Run) CloseStdin() error {
	return r.stdin.Close()
}

func (r *Run) close(code websocket.StatusCode, reason string) {
	// websocket reasons are limited to 123 bytes
	if len(reason) > 100 {
		reason = reason[:100]
	}
	r.closeConnOnce.Do(func() {
		err := r.conn.Close(code, reason)
		if err != nil {
			r.log.Debugf("error closing conn: %s", err)
		}
	})
}

func (r *Run) finish(res *process.Result, err error) {
	r.resultCh <- runResult{res: res, err: err}
}

func (r *Run) emit(t process.EventType, line string) {
	e := process.Event{Type: t, Line: line}
	r.result.Observe(e)
	if r.handler != nil {
		r.handler(e)
	}
}

func (r *Run) readMessages() {
	defer r.cancel()

	for {
		var msg responseMessage
		err := wsjson.Read(r.ctx, r.conn, &msg)
		if websocket.CloseStatus(err) != -1 {
			r.finish(nil, fmt.Errorf("conn unexpectedly closed: %w", err))
			return
		}
		if err != nil {
			r.log.Debugf("message reader got error: %s", err)
			r.finish(nil, err)
			r.close(websocket.StatusInternalError, err.Error())
			return
		}

		if t, ok := eventType(msg.Type); ok {
			if t == process.EventStarted {
				r.result.CommandLine = msg.CommandLine
				r.result.Status = process.StatusStarted
			}
			r.emit(t, msg.Line)
			continue
		}

		switch msg.Type {
		case msgExited:
			r.log.Debugw("run exited", "ExitCode", msg.ExitCode, "Status", msg.Status)
			r.result.ExitCode = msg.ExitCode
			r.result.Status = msg.Status
			r.result.Duration = time.Duration(msg.TimeMS) * time.Millisecond
			r.finish(r.result, nil)
			r.close(websocket.StatusNormalClosure, "")
			return
		case msgError:
			r.finish(nil, fmt.Errorf("remote run: %s", msg.Err))
			r.close(websocket.StatusNormalClosure, "")
			return
		default:
			r.log.Debugf("ignoring message of unknown type %q", msg.Type)
		}
	}
}
