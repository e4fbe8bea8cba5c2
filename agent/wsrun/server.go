package wsrun

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/guseggert/procrunner/process"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// closeTimeout is how long the server waits for the client to close the connection after the exit message.
const closeTimeout = 5 * time.Second

type Server struct {
	Log *zap.SugaredLogger
	// ProcessOptions are passed to every process the server runs.
	ProcessOptions []process.Option
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		s.Log.Debugf("error accepting WebSocket conn: %s", err)
		return
	}
	wsConn.SetReadLimit(readLimit)
	s.Log.Debug("accepted WebSocket conn")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	runner := &serverRunner{
		log:        s.Log.Named("server_runner"),
		conn:       wsConn,
		ctx:        ctx,
		cancel:     cancel,
		procOpts:   s.ProcessOptions,
		stdinCh:    make(chan string, 16),
		readerDone: make(chan struct{}),
	}
	runner.run()
}

type serverRunner struct {
	log      *zap.SugaredLogger
	conn     *websocket.Conn
	ctx      context.Context
	cancel   func()
	procOpts []process.Option

	proc *process.Process

	stdinCh    chan string
	readerDone chan struct{}

	wg sync.WaitGroup

	closeConnOnce sync.Once
}

func (r *serverRunner) close(code websocket.StatusCode, reason string) {
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

func (r *serverRunner) send(msg responseMessage) error {
	return wsjson.Write(r.ctx, r.conn, msg)
}

func (r *serverRunner) run() {
	defer r.cancel()

	p, err := r.readFirstMessage()
	if err != nil {
		r.log.Debugf("error reading first message: %s", err)
		if sendErr := r.send(responseMessage{Type: msgError, Err: err.Error()}); sendErr != nil {
			r.log.Debugf("error sending error message: %s", sendErr)
		}
		r.close(websocket.StatusInternalError, "reading first message: "+err.Error())
		return
	}
	r.proc = p

	r.wg.Add(2)
	go r.readMessages()
	go r.writeStdin()

	res, err := p.Run(r.ctx)
	if err != nil {
		r.log.Debugf("error running process: %s", err)
		if sendErr := r.send(responseMessage{Type: msgError, Err: err.Error()}); sendErr != nil {
			r.log.Debugf("error sending error message: %s", sendErr)
		}
	} else {
		r.log.Debugw("process exited, sending result", "ExitCode", res.ExitCode, "Status", res.Status)
		err = r.send(responseMessage{
			Type:     msgExited,
			ExitCode: res.ExitCode,
			Status:   res.Status,
			TimeMS:   res.Duration.Milliseconds(),
		})
		if err != nil {
			r.log.Debugf("error sending exit message: %s", err)
		}
	}

	// the client initiates the close once it has the result
	select {
	case <-r.readerDone:
	case <-time.After(closeTimeout):
		r.log.Debug("timed out waiting for client to close conn")
		r.close(websocket.StatusNormalClosure, "")
	}
	r.cancel()
	r.wg.Wait()
}

// readFirstMessage reads the run request and sets up a process that streams its events to the client.
func (r *serverRunner) readFirstMessage() (*process.Process, error) {
	var msg requestMessage
	err := wsjson.Read(r.ctx, r.conn, &msg)
	if err != nil {
		return nil, err
	}
	if msg.Req == nil {
		return nil, errors.New("first message contained no request")
	}
	r.log.Debugw("got first message", "Command", msg.Req.Command, "Args", msg.Req.Args)

	opts, err := msg.Req.Options()
	if err != nil {
		return nil, err
	}
	p := process.New(opts, r.procOpts...)

	// Handlers run one at a time in dispatch order, so lines arrive at the client in that order too.
	forward := func(e process.Event) {
		msg := responseMessage{Type: e.Type.String(), Line: e.Line}
		if e.Type == process.EventStarted {
			msg.CommandLine = opts.CommandLine()
		}
		if err := r.send(msg); err != nil {
			r.log.Debugf("error sending %s message, cancelling: %s", e.Type, err)
			e.Process.Cancel()
		}
	}
	for _, t := range []process.EventType{process.EventStarted, process.EventStdout, process.EventStderr} {
		if err := p.Subscribe(t, forward); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (r *serverRunner) readMessages() {
	defer r.wg.Done()
	defer close(r.readerDone)
	defer close(r.stdinCh)

	closedStdin := false
	for {
		var msg requestMessage
		err := wsjson.Read(r.ctx, r.conn, &msg)
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			r.log.Debug("got normal closure from client, wrapping up")
			r.proc.Cancel()
			return
		}
		if err != nil {
			r.log.Debugf("message reader got error, cancelling run: %s", err)
			r.proc.Cancel()
			r.close(websocket.StatusInternalError, err.Error())
			return
		}
		if msg.Cancel {
			r.log.Debug("client cancelled run")
			r.proc.Cancel()
		}
		if closedStdin {
			continue
		}
		if msg.Stdin != "" {
			select {
			case r.stdinCh <- msg.Stdin:
			case <-r.ctx.Done():
				return
			}
		}
		if msg.StdinDone {
			closedStdin = true
			select {
			case r.stdinCh <- "":
			case <-r.ctx.Done():
				return
			}
		}
	}
}

// writeStdin copies stdin chunks into the process. An empty chunk closes standard input.
func (r *serverRunner) writeStdin() {
	defer r.wg.Done()
	stdin := r.proc.Stdin()
	for s := range r.stdinCh {
		if s == "" {
			if err := stdin.Close(); err != nil {
				r.log.Debugf("error closing stdin: %s", err)
			}
			continue
		}
		if _, err := stdin.Write([]byte(s)); err != nil {
			r.log.Debugf("stdin writer got write error: %s", err)
		}
	}
}
