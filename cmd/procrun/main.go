package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/guseggert/procrunner/agent"
	"github.com/guseggert/procrunner/process"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Exit codes for runs that did not finish, following timeout(1) and shells.
const (
	exitTimedOut  = 124
	exitCancelled = 130
)

func main() {
	app := &cli.App{
		Name:  "procrun",
		Usage: "run processes with streamed output, timeouts and cancellation",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Log debug output to stderr.",
			},
		},
		Commands: []*cli.Command{
			runCommand,
			remoteCommand,
			{
				Name:      "quote",
				Usage:     "print each argument quoted so that a child process receives it unchanged",
				ArgsUsage: "ARG...",
				Action: func(ctx *cli.Context) error {
					for _, a := range ctx.Args().Slice() {
						fmt.Println(process.QuoteArgument(a))
					}
					return nil
				},
			},
			agentCommand,
			{
				Name:  "certs",
				Usage: "generate mTLS certs for an agent and its clients",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "out",
						Usage:    "The directory to write the PEM files to.",
						Required: true,
					},
					&cli.DurationFlag{
						Name:  "valid-for",
						Usage: "How long the certs are valid for.",
						Value: 7 * 24 * time.Hour,
					},
				},
				Action: func(ctx *cli.Context) error {
					certs, err := agent.GenerateCerts(ctx.Duration("valid-for"))
					if err != nil {
						return fmt.Errorf("generating certs: %w", err)
					}
					return certs.WriteFiles(ctx.String("out"))
				},
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

var agentCommand = &cli.Command{
	Name:  "agent",
	Usage: "serve runs to remote clients",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "listen-addr",
			Usage: "The address for the HTTP server to listen on.",
			Value: "127.0.0.1:8080",
		},
		&cli.StringFlag{
			Name:  "tls-dir",
			Usage: "A directory written by the certs command. Enables mTLS.",
		},
		&cli.DurationFlag{
			Name:  "heartbeat-timeout",
			Usage: "Exit when no client has sent a heartbeat for this long. Zero disables the check.",
		},
	},
	Action: func(ctx *cli.Context) error {
		// the agent logs at info level unless debugging
		logger, err := newLogger(true)
		if err != nil {
			return err
		}
		opts := []agent.Option{
			agent.WithLogger(logger),
			agent.WithListenAddr(ctx.String("listen-addr")),
			agent.WithHeartbeatTimeout(ctx.Duration("heartbeat-timeout")),
			agent.WithHeartbeatFailureHandler(agent.HeartbeatFailureExit),
		}
		if dir := ctx.String("tls-dir"); dir != "" {
			tlsConfig, err := agent.ServerTLSConfigFromDir(dir)
			if err != nil {
				return fmt.Errorf("building server TLS config: %w", err)
			}
			opts = append(opts, agent.WithTLSConfig(tlsConfig))
		}
		if !ctx.Bool("debug") {
			opts = append(opts, agent.WithLogLevel(zapcore.InfoLevel))
		}

		a, err := agent.New(opts...)
		if err != nil {
			return fmt.Errorf("building agent: %w", err)
		}

		sigCtx, stop := signalContext(ctx.Context)
		defer stop()
		go func() {
			<-sigCtx.Done()
			if err := a.Stop(); err != nil {
				logger.Sugar().Debugf("error stopping agent: %s", err)
			}
		}()
		return a.Run()
	},
}

func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// newLogger builds a console logger on stderr. Without debug only warnings and errors are logged.
func newLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if !debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}

// exitCode maps a run's outcome to the exit code of procrun.
func exitCode(res *process.Result) int {
	switch res.Status {
	case process.StatusTimedOut:
		return exitTimedOut
	case process.StatusCancelled:
		return exitCancelled
	}
	return res.ExitCode
}
