package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/guseggert/procrunner/agent"
	"github.com/guseggert/procrunner/agent/wsrun"
	"github.com/guseggert/procrunner/process"
	"github.com/urfave/cli/v2"
)

var remoteCommand = &cli.Command{
	Name:      "remote",
	Usage:     "run a process on an agent, streaming its output",
	ArgsUsage: "[--] COMMAND [ARG...]",
	Flags: append([]cli.Flag{
		&cli.StringFlag{
			Name:  "addr",
			Usage: "The address of the agent.",
			Value: "127.0.0.1:8080",
		},
		&cli.StringFlag{
			Name:  "tls-dir",
			Usage: "A directory written by the certs command, for agents using mTLS.",
		},
	}, runFlags...),
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() == 0 {
			return fmt.Errorf("no command given")
		}
		args := ctx.Args().Slice()

		// the flags are applied to local options and then copied into the request
		opts := process.NewOptions(args[0])
		if err := applyRunFlags(ctx, opts); err != nil {
			return err
		}
		req := wsrun.RunRequest{
			Command:    args[0],
			Args:       args[1:],
			Env:        opts.Env(),
			WorkingDir: opts.WorkingDir(),
			Timeout:    opts.Timeout(),
			Stdin:      opts.StandardInput(),
		}

		logger, err := newLogger(ctx.Bool("debug"))
		if err != nil {
			return err
		}
		defer logger.Sync()

		clientOpts := []agent.ClientOption{agent.WithClientLogger(logger)}
		if dir := ctx.String("tls-dir"); dir != "" {
			tlsConfig, err := agent.ClientTLSConfigFromDir(dir)
			if err != nil {
				return fmt.Errorf("building client TLS config: %w", err)
			}
			clientOpts = append(clientOpts, agent.WithClientTLSConfig(tlsConfig))
		}
		client, err := agent.NewClient(ctx.String("addr"), clientOpts...)
		if err != nil {
			return fmt.Errorf("building client: %w", err)
		}

		errColor := color.New(color.FgRed)
		run, err := client.StartRun(ctx.Context, req, func(e process.Event) {
			switch e.Type {
			case process.EventStdout:
				fmt.Fprintln(os.Stdout, e.Line)
			case process.EventStderr:
				errColor.Fprintln(os.Stderr, e.Line)
			}
		})
		if err != nil {
			return err
		}

		sigCtx, stop := signalContext(ctx.Context)
		defer stop()
		go func() {
			<-sigCtx.Done()
			if ctx.Context.Err() == nil {
				if err := run.Cancel(ctx.Context); err != nil {
					logger.Sugar().Debugf("error cancelling remote run: %s", err)
				}
			}
		}()

		res, err := run.Wait(ctx.Context)
		if err != nil {
			return err
		}
		if !res.Success() {
			return cli.Exit(fmt.Sprintf("%s: %s", strings.Join(args, " "), res.Status), exitCode(res))
		}
		if code := exitCode(res); code != 0 {
			return cli.Exit("", code)
		}
		return nil
	},
}
