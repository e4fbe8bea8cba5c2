package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/guseggert/procrunner/config"
	"github.com/guseggert/procrunner/process"
	"github.com/guseggert/procrunner/runner"
	"github.com/urfave/cli/v2"
	"golang.org/x/text/encoding"
)

var runFlags = []cli.Flag{
	&cli.DurationFlag{
		Name:  "timeout",
		Usage: "Kill the process if it runs longer than this.",
	},
	&cli.StringFlag{
		Name:  "dir",
		Usage: "The working directory of the process.",
	},
	&cli.StringSliceFlag{
		Name:  "env",
		Usage: "Set an environment variable of the process, as KEY=VALUE. Can be repeated.",
	},
	&cli.StringFlag{
		Name:  "env-file",
		Usage: "A dotenv file of environment variables for the process.",
	},
	&cli.StringFlag{
		Name:  "stdin-file",
		Usage: "A file whose contents are sent to the process on standard input.",
	},
}

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "run a process, streaming its output",
	ArgsUsage: "[--] COMMAND [ARG...]",
	Flags: append([]cli.Flag{
		&cli.StringFlag{
			Name:  "job",
			Usage: "A YAML job file describing the process. Other flags override it.",
		},
		&cli.StringFlag{
			Name:  "encoding",
			Usage: "The text encoding of the process's standard streams, e.g. windows-1252.",
		},
		&cli.BoolFlag{
			Name:  "quiet-stdout",
			Usage: "Don't print the process's standard output.",
		},
		&cli.BoolFlag{
			Name:  "quiet-stderr",
			Usage: "Don't print the process's standard error.",
		},
	}, runFlags...),
	Action: func(ctx *cli.Context) error {
		opts, err := runOptions(ctx)
		if err != nil {
			return err
		}

		logger, err := newLogger(ctx.Bool("debug"))
		if err != nil {
			return err
		}
		defer logger.Sync()

		errColor := color.New(color.FgRed)
		r := runner.New(
			runner.WithLogger(logger),
			runner.WithSuccess(func(*process.Result) bool { return true }),
			runner.WithHandler(process.EventStdout, func(e process.Event) {
				if opts.LogStdout() {
					fmt.Fprintln(os.Stdout, e.Line)
				}
			}),
			runner.WithHandler(process.EventStderr, func(e process.Event) {
				if opts.LogStderr() {
					errColor.Fprintln(os.Stderr, e.Line)
				}
			}),
		)

		sigCtx, stop := signalContext(ctx.Context)
		defer stop()
		res, err := r.Run(sigCtx, opts)
		if err != nil {
			return err
		}
		if !res.Success() {
			return cli.Exit(fmt.Sprintf("%s: %s", opts.FileName(), res.Status), exitCode(res))
		}
		if code := exitCode(res); code != 0 {
			return cli.Exit("", code)
		}
		return nil
	},
}

// runOptions builds the options for the run command from the job file, flags and arguments.
func runOptions(ctx *cli.Context) (*process.Options, error) {
	var opts *process.Options
	if path := ctx.String("job"); path != "" {
		job, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		if opts, err = job.Options(); err != nil {
			return nil, err
		}
		for _, a := range ctx.Args().Slice() {
			opts.AddEscaped(a)
		}
	} else {
		if ctx.NArg() == 0 {
			return nil, fmt.Errorf("no command given")
		}
		args := ctx.Args().Slice()
		opts = process.NewOptions(process.FindExecutable(args[0]))
		for _, a := range args[1:] {
			opts.AddEscaped(a)
		}
	}

	if err := applyRunFlags(ctx, opts); err != nil {
		return nil, err
	}

	if name := ctx.String("encoding"); name != "" {
		enc, err := process.LookupEncoding(name)
		if err != nil {
			return nil, err
		}
		for _, set := range []func(encoding.Encoding) error{opts.SetStdinEncoding, opts.SetStdoutEncoding, opts.SetStderrEncoding} {
			if err := set(enc); err != nil {
				return nil, err
			}
		}
	}
	if ctx.Bool("quiet-stdout") {
		if err := opts.SetLogStdout(false); err != nil {
			return nil, err
		}
	}
	if ctx.Bool("quiet-stderr") {
		if err := opts.SetLogStderr(false); err != nil {
			return nil, err
		}
	}
	return opts, nil
}

// applyRunFlags applies the flags shared by run and remote.
func applyRunFlags(ctx *cli.Context, opts *process.Options) error {
	if ctx.IsSet("timeout") {
		if err := opts.SetTimeout(ctx.Duration("timeout")); err != nil {
			return err
		}
	}
	if dir := ctx.String("dir"); dir != "" {
		if err := opts.SetWorkingDir(dir); err != nil {
			return err
		}
	}
	if path := ctx.String("env-file"); path != "" {
		env, err := config.ReadEnvFile(path)
		if err != nil {
			return err
		}
		for k, v := range env {
			if err := opts.SetEnv(k, v); err != nil {
				return err
			}
		}
	}
	for _, kv := range ctx.StringSlice("env") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("invalid --env %q, expected KEY=VALUE", kv)
		}
		if err := opts.SetEnv(k, v); err != nil {
			return err
		}
	}
	if path := ctx.String("stdin-file"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading stdin file: %w", err)
		}
		if err := opts.Append(string(b)); err != nil {
			return err
		}
	}
	return nil
}
