package agent

import (
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/guseggert/procrunner/agent/wsrun"
	"github.com/guseggert/procrunner/process"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const helperEnv = "PROCRUNNER_AGENT_HELPER"

var (
	log *zap.Logger
)

func init() {
	l, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	log = l
}

func TestMain(m *testing.M) {
	if mode := os.Getenv(helperEnv); mode != "" {
		switch mode {
		case "greet":
			for _, a := range os.Args[1:] {
				fmt.Printf("hello %s\n", a)
			}
			fmt.Fprintln(os.Stderr, "done")
		case "fail":
			fmt.Println("failing")
			os.Exit(5)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func helperRequest(t *testing.T, mode string, args ...string) wsrun.RunRequest {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	return wsrun.RunRequest{
		Command: exe,
		Args:    args,
		Env:     map[string]string{helperEnv: mode},
	}
}

// newTestAgent serves an agent without TLS and returns a client for it.
func newTestAgent(t *testing.T, opts ...Option) (*Agent, *Client) {
	a, err := New(append([]Option{WithLogger(log), WithPollInterval(10 * time.Millisecond)}, opts...)...)
	require.NoError(t, err)
	s := httptest.NewServer(a.Handler())
	t.Cleanup(s.Close)

	client, err := NewClient(strings.TrimPrefix(s.URL, "http://"), WithClientLogger(log))
	require.NoError(t, err)
	require.NoError(t, client.WaitForServer(context.Background()))
	return a, client
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	_, client := newTestAgent(t)

	cases := []struct {
		name        string
		req         wsrun.RunRequest
		expStdout   []string
		expExitCode int
	}{
		{
			name:      "happy case",
			req:       helperRequest(t, "greet", "alice", "bob smith"),
			expStdout: []string{"hello alice", "hello bob smith"},
		},
		{
			name:        "nonzero exit code",
			req:         helperRequest(t, "fail"),
			expStdout:   []string{"failing"},
			expExitCode: 5,
		},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Run("post", func(t *testing.T) {
				res, err := client.Run(ctx, c.req)
				require.NoError(t, err)
				assert.Equal(t, process.StatusFinished, res.Status)
				assert.Equal(t, c.expExitCode, res.ExitCode)
				assert.Equal(t, c.expStdout, res.Stdout)
			})
			t.Run("websocket", func(t *testing.T) {
				var lines []string
				run, err := client.StartRun(ctx, c.req, func(e process.Event) {
					if e.Type == process.EventStdout {
						lines = append(lines, e.Line)
					}
				})
				require.NoError(t, err)
				res, err := run.Wait(ctx)
				require.NoError(t, err)
				assert.Equal(t, process.StatusFinished, res.Status)
				assert.Equal(t, c.expExitCode, res.ExitCode)
				assert.Equal(t, c.expStdout, res.Stdout)
				assert.Equal(t, c.expStdout, lines)
			})
		})
	}
}

func TestRunBadRequests(t *testing.T) {
	ctx := context.Background()
	_, client := newTestAgent(t)

	_, err := client.Run(ctx, wsrun.RunRequest{})
	require.ErrorContains(t, err, "400")
	require.ErrorContains(t, err, "no command")

	_, err = client.Run(ctx, wsrun.RunRequest{Command: "/nonexistent/procrunner-missing"})
	require.ErrorContains(t, err, "422")
}

func TestHeartbeatTimeout(t *testing.T) {
	failed := make(chan struct{})
	a, err := New(
		WithLogger(log),
		WithListenAddr("127.0.0.1:0"),
		WithHeartbeatTimeout(200*time.Millisecond),
		WithHeartbeatFailureHandler(func() { close(failed) }),
	)
	require.NoError(t, err)

	go a.Run()
	defer func() {
		require.NoError(t, a.Stop())
	}()

	client, err := NewClient(a.Addr().String(), WithClientLogger(log))
	require.NoError(t, err)
	require.NoError(t, client.WaitForServer(context.Background()))

	select {
	case <-failed:
	case <-time.After(10 * time.Second):
		t.Fatal("heartbeat failure handler was not called")
	}
}

func TestTLS(t *testing.T) {
	certs, err := GenerateCerts(time.Hour)
	require.NoError(t, err)
	serverTLS, err := certs.ServerTLSConfig()
	require.NoError(t, err)

	a, err := New(WithLogger(log), WithListenAddr("127.0.0.1:0"), WithTLSConfig(serverTLS))
	require.NoError(t, err)

	go a.Run()
	defer func() {
		require.NoError(t, a.Stop())
	}()

	t.Run("authorized client", func(t *testing.T) {
		ctx := context.Background()
		clientTLS, err := certs.ClientTLSConfig()
		require.NoError(t, err)
		client, err := NewClient(a.Addr().String(), WithClientLogger(log), WithClientTLSConfig(clientTLS))
		require.NoError(t, err)
		require.NoError(t, client.WaitForServer(ctx))

		res, err := client.Run(ctx, helperRequest(t, "greet", "tls"))
		require.NoError(t, err)
		assert.Equal(t, []string{"hello tls"}, res.Stdout)

		run, err := client.StartRun(ctx, helperRequest(t, "greet", "wss"), nil)
		require.NoError(t, err)
		res, err = run.Wait(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"hello wss"}, res.Stdout)
	})

	t.Run("certs from files", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, certs.WriteFiles(dir))
		_, err := ServerTLSConfigFromDir(dir)
		require.NoError(t, err)
		clientTLS, err := ClientTLSConfigFromDir(dir)
		require.NoError(t, err)

		client, err := NewClient(a.Addr().String(), WithClientLogger(log), WithClientTLSConfig(clientTLS))
		require.NoError(t, err)
		require.NoError(t, client.Heartbeat(context.Background()))
	})

	t.Run("unauthorized client", func(t *testing.T) {
		// a client cert from another CA must be rejected
		otherCerts, err := GenerateCerts(time.Hour)
		require.NoError(t, err)
		clientTLS, err := ClientTLSConfig(certs.CA.CertPEMBytes, otherCerts.Client.CertPEMBytes, otherCerts.Client.KeyPEMBytes)
		require.NoError(t, err)

		client, err := NewClient(a.Addr().String(),
			WithClientLogger(log),
			WithClientTLSConfig(clientTLS),
			WithCustomizeRetryableClient(func(r *retryablehttp.Client) {
				r.RetryMax = 0
			}),
		)
		require.NoError(t, err)
		require.ErrorContains(t, client.Heartbeat(context.Background()), "tls")
	})
}
