package agent

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/guseggert/procrunner/agent/wsrun"
	"github.com/guseggert/procrunner/process"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Agent is an HTTP server that runs processes on behalf of remote clients.
// With a TLS config from ServerTLSConfig, clients must present a cert signed by the same CA.
type Agent struct {
	logger *zap.SugaredLogger

	tlsConfig  *tls.Config
	listenAddr string

	// heartbeatTimeout of zero disables the heartbeat check.
	heartbeatTimeout        time.Duration
	heartbeatFailureHandler func()
	pollInterval            time.Duration

	httpServer *http.Server
	listener   net.Listener
	ready      chan struct{}

	closed        chan struct{}
	closeOnce     sync.Once
	heartbeatMut  sync.Mutex
	lastHeartbeat time.Time
}

type Option func(a *Agent)

func WithListenAddr(s string) Option {
	return func(a *Agent) {
		a.listenAddr = s
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(a *Agent) {
		a.logger = l.Named("agent").Sugar()
	}
}

func WithLogLevel(l zapcore.Level) Option {
	return func(a *Agent) {
		a.logger = a.logger.WithOptions(zap.IncreaseLevel(l))
	}
}

func WithTLSConfig(cfg *tls.Config) Option {
	return func(a *Agent) {
		a.tlsConfig = cfg
	}
}

// WithHeartbeatTimeout makes the agent call the heartbeat failure handler when no client has sent a heartbeat for d.
func WithHeartbeatTimeout(d time.Duration) Option {
	return func(a *Agent) {
		a.heartbeatTimeout = d
	}
}

func WithHeartbeatFailureHandler(f func()) Option {
	return func(a *Agent) {
		a.heartbeatFailureHandler = f
	}
}

// WithPollInterval sets the poll interval of the processes the agent runs.
func WithPollInterval(d time.Duration) Option {
	return func(a *Agent) {
		a.pollInterval = d
	}
}

func HeartbeatFailureExit() {
	fmt.Println("heartbeat failed, exiting")
	os.Exit(1)
}

// New constructs an agent. It does not listen until Run is called.
func New(opts ...Option) (*Agent, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	a := &Agent{
		logger:       logger.Named("agent").Sugar(),
		listenAddr:   "127.0.0.1:8080",
		pollInterval: process.DefaultPollInterval,
		ready:        make(chan struct{}),
		closed:       make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Handler returns the agent's routes.
func (a *Agent) Handler() http.Handler {
	router := httprouter.New()
	router.GET("/heartbeat", a.heartbeat)
	router.GET("/run", a.runWS)
	router.POST("/run", a.run)
	return router
}

// Run listens and serves until Stop is called.
func (a *Agent) Run() error {
	listener, err := net.Listen("tcp", a.listenAddr)
	if err != nil {
		return fmt.Errorf("listening TCP: %w", err)
	}
	if a.tlsConfig != nil {
		listener = tls.NewListener(listener, a.tlsConfig)
	}

	a.httpServer = &http.Server{Handler: a.Handler()}
	a.listener = listener
	close(a.ready)
	a.logger.Infow("agent listening", "Addr", listener.Addr().String(), "TLS", a.tlsConfig != nil)

	if a.heartbeatTimeout > 0 {
		a.startHeartbeatCheck()
	}

	err = a.httpServer.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Addr returns the address the agent listens on, once Run has started listening.
func (a *Agent) Addr() net.Addr {
	<-a.ready
	return a.listener.Addr()
}

func (a *Agent) Stop() error {
	a.closeOnce.Do(func() { close(a.closed) })
	select {
	case <-a.ready:
		return a.httpServer.Close()
	default:
		return nil
	}
}

// startHeartbeatCheck starts a goroutine that calls the failure handler when heartbeats stop arriving.
func (a *Agent) startHeartbeatCheck() {
	a.heartbeatMut.Lock()
	a.lastHeartbeat = time.Now()
	a.heartbeatMut.Unlock()

	go func() {
		ticker := time.NewTicker(a.heartbeatTimeout / 10)
		defer ticker.Stop()
		for {
			select {
			case <-a.closed:
				return
			case <-ticker.C:
			}

			a.heartbeatMut.Lock()
			lastHeartbeat := a.lastHeartbeat
			a.heartbeatMut.Unlock()

			if time.Since(lastHeartbeat) > a.heartbeatTimeout {
				a.logger.Infow("heartbeat timed out", "LastHeartbeat", lastHeartbeat)
				if a.heartbeatFailureHandler != nil {
					a.heartbeatFailureHandler()
				}
				return
			}
		}
	}()
}

type HeartbeatResponse struct {
	LastHeartbeat string
}

func (a *Agent) heartbeat(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	a.heartbeatMut.Lock()
	lastHeartbeat := a.lastHeartbeat
	a.lastHeartbeat = time.Now()
	a.heartbeatMut.Unlock()

	resp := HeartbeatResponse{}
	if !lastHeartbeat.IsZero() {
		resp.LastHeartbeat = lastHeartbeat.UTC().Format(time.RFC3339)
	}
	a.writeJSON(w, http.StatusOK, resp)
}

func (a *Agent) processOptions(log *zap.SugaredLogger) []process.Option {
	return []process.Option{
		process.WithLogger(log.Desugar()),
		process.WithPollInterval(a.pollInterval),
	}
}

// runWS streams a run over a WebSocket connection.
func (a *Agent) runWS(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	log := a.logger.With("RunID", uuid.NewString())
	log.Debug("starting streaming run")
	s := &wsrun.Server{
		Log:            log.Named("run_server"),
		ProcessOptions: a.processOptions(log),
	}
	s.ServeHTTP(w, r)
}

// run is a simple runner which takes a request with all of stdin, and responds with the whole result.
// This is much easier to curl and write simple clients against, but doesn't support streaming input & output.
// If the request is aborted, the run is cancelled.
func (a *Agent) run(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	log := a.logger.With("RunID", uuid.NewString())

	var req wsrun.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.KeepStdinOpen = false
	opts, err := req.Options()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	log.Debugw("running", "CommandLine", opts.CommandLine())
	res, err := process.New(opts, a.processOptions(log)...).Run(r.Context())
	if err != nil {
		// launch errors must not be retried by clients
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	log.Debugw("run complete", "Status", res.Status, "ExitCode", res.ExitCode)
	a.writeJSON(w, http.StatusOK, res)
}

func (a *Agent) writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(b); err != nil {
		a.logger.Debugf("error writing response: %s", err)
	}
}
