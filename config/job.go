// Package config loads process jobs from YAML files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/guseggert/procrunner/process"
	"github.com/joho/godotenv"
	"golang.org/x/text/encoding"
	"gopkg.in/yaml.v3"
)

// Job describes a process to run.
//
//	command: go
//	args: [test, ./...]
//	env:
//	  CGO_ENABLED: "0"
//	envFile: .env
//	timeout: 5m
//	stdinLines: [first, second]
//	encoding:
//	  stdout: windows-1252
//	log:
//	  stderr: false
type Job struct {
	Command    string            `yaml:"command"`
	Args       []string          `yaml:"args"`
	Env        map[string]string `yaml:"env"`
	EnvFile    string            `yaml:"envFile"`
	WorkingDir string            `yaml:"workingDir"`
	// Timeout is a duration such as "30s". Empty means no timeout.
	Timeout        string   `yaml:"timeout"`
	Stdin          string   `yaml:"stdin"`
	StdinLines     []string `yaml:"stdinLines"`
	AutoCloseStdin *bool    `yaml:"autoCloseStdin"`
	Encoding       Encoding `yaml:"encoding"`
	Log            Log      `yaml:"log"`

	// dir is the directory of the job file, used to resolve a relative envFile.
	dir string
}

// Encoding holds WHATWG encoding names for each stream. Empty means UTF-8.
type Encoding struct {
	Stdin  string `yaml:"stdin"`
	Stdout string `yaml:"stdout"`
	Stderr string `yaml:"stderr"`
}

// Log controls whether output lines are logged by the runner. Both default to true.
type Log struct {
	Stdout *bool `yaml:"stdout"`
	Stderr *bool `yaml:"stderr"`
}

// Load reads and validates the job file at path.
func Load(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading job file: %w", err)
	}
	job, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	job.dir = filepath.Dir(path)
	return job, nil
}

// Parse decodes and validates a job. Unknown fields are rejected.
func Parse(data []byte) (*Job, error) {
	var job Job
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&job); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty job")
		}
		return nil, fmt.Errorf("decoding job: %w", err)
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return &job, nil
}

func (j *Job) Validate() error {
	if j.Command == "" {
		return errors.New("job has no command")
	}
	if j.Timeout != "" {
		d, err := time.ParseDuration(j.Timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout: %w", err)
		}
		if d < 0 {
			return fmt.Errorf("negative timeout %s", d)
		}
	}
	for _, name := range []string{j.Encoding.Stdin, j.Encoding.Stdout, j.Encoding.Stderr} {
		if _, err := process.LookupEncoding(name); err != nil {
			return err
		}
	}
	return nil
}

// Options builds process options for the job. Variables from envFile are applied first, so env takes precedence.
func (j *Job) Options() (*process.Options, error) {
	if err := j.Validate(); err != nil {
		return nil, err
	}
	opts := process.NewOptions(j.Command, j.Args...)

	if j.EnvFile != "" {
		path := j.EnvFile
		if !filepath.IsAbs(path) && j.dir != "" {
			path = filepath.Join(j.dir, path)
		}
		fileEnv, err := ReadEnvFile(path)
		if err != nil {
			return nil, err
		}
		if err := setEnv(opts, fileEnv); err != nil {
			return nil, err
		}
	}
	if err := setEnv(opts, j.Env); err != nil {
		return nil, err
	}

	if err := opts.SetWorkingDir(j.WorkingDir); err != nil {
		return nil, err
	}
	if j.Timeout != "" {
		d, _ := time.ParseDuration(j.Timeout)
		if err := opts.SetTimeout(d); err != nil {
			return nil, err
		}
	}

	if err := opts.Append(j.Stdin); err != nil {
		return nil, err
	}
	if err := opts.AppendLines(j.StdinLines...); err != nil {
		return nil, err
	}
	if j.AutoCloseStdin != nil {
		if err := opts.SetAutoCloseStdin(*j.AutoCloseStdin); err != nil {
			return nil, err
		}
	}
	if j.Log.Stdout != nil {
		if err := opts.SetLogStdout(*j.Log.Stdout); err != nil {
			return nil, err
		}
	}
	if j.Log.Stderr != nil {
		if err := opts.SetLogStderr(*j.Log.Stderr); err != nil {
			return nil, err
		}
	}

	encodings := []struct {
		name string
		set  func(encoding.Encoding) error
	}{
		{j.Encoding.Stdin, opts.SetStdinEncoding},
		{j.Encoding.Stdout, opts.SetStdoutEncoding},
		{j.Encoding.Stderr, opts.SetStderrEncoding},
	}
	for _, e := range encodings {
		enc, err := process.LookupEncoding(e.name)
		if err != nil {
			return nil, err
		}
		if err := e.set(enc); err != nil {
			return nil, err
		}
	}
	return opts, nil
}

// ReadEnvFile reads a dotenv file into a map.
func ReadEnvFile(path string) (map[string]string, error) {
	env, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("reading env file: %w", err)
	}
	return env, nil
}

func setEnv(opts *process.Options, env map[string]string) error {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := opts.SetEnv(k, env[k]); err != nil {
			return err
		}
	}
	return nil
}
