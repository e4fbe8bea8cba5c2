package process

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// Options describes what to run: the executable, its command line tokens, environment, working directory, timeout,
// stream encodings and the text to send on standard input.
//
// Options are frozen once the Process using them has started. After that the Add family returns false and the setters
// return ErrAlreadyStarted.
type Options struct {
	mut    sync.Mutex
	frozen bool

	fileName   string
	tokens     []string
	env        map[string]string
	workingDir string
	timeout    time.Duration

	stdinEncoding  encoding.Encoding
	stdoutEncoding encoding.Encoding
	stderrEncoding encoding.Encoding

	stdin          strings.Builder
	autoCloseStdin bool
	logStdout      bool
	logStderr      bool
}

// NewOptions creates Options for fileName, adding each of args with Add.
func NewOptions(fileName string, args ...string) *Options {
	o := &Options{
		fileName:       fileName,
		env:            map[string]string{},
		autoCloseStdin: true,
		logStdout:      true,
		logStderr:      true,
	}
	o.AddAll(args...)
	return o
}

func (o *Options) freeze() {
	o.mut.Lock()
	defer o.mut.Unlock()
	o.frozen = true
}

// Frozen reports whether the options belong to a Process that has started.
func (o *Options) Frozen() bool {
	o.mut.Lock()
	defer o.mut.Unlock()
	return o.frozen
}

// set runs f under the lock unless the options are frozen.
func (o *Options) set(f func()) error {
	o.mut.Lock()
	defer o.mut.Unlock()
	if o.frozen {
		return ErrAlreadyStarted
	}
	f()
	return nil
}

func (o *Options) addToken(token string) bool {
	return o.set(func() { o.tokens = append(o.tokens, token) }) == nil
}

// Add adds a command line argument. Empty values are not added.
// A value containing whitespace is wrapped in quotes, but embedded quotes are not escaped; use AddEscaped for that.
// Returns true if the argument was added.
func (o *Options) Add(value string) bool {
	if value == "" {
		return false
	}
	if containsSpace(value) {
		value = `"` + value + `"`
	}
	return o.addToken(value)
}

// AddEscaped adds a command line argument quoted with QuoteArgument, so that the child receives exactly value.
func (o *Options) AddEscaped(value string) bool {
	if value == "" {
		return false
	}
	return o.addToken(QuoteArgument(value))
}

// AddValue adds the string form of v, as formatted by fmt.Sprint. A nil value is not added.
func (o *Options) AddValue(v any) bool {
	if v == nil {
		return false
	}
	return o.Add(fmt.Sprint(v))
}

// AddAll adds each of values and returns true if at least one was added.
func (o *Options) AddAll(values ...string) bool {
	added := false
	for _, v := range values {
		added = o.Add(v) || added
	}
	return added
}

// AddOption adds option and value as two arguments, only if both are non-empty.
func (o *Options) AddOption(option, value string) bool {
	if option == "" || value == "" {
		return false
	}
	o.mut.Lock()
	defer o.mut.Unlock()
	if o.frozen {
		return false
	}
	for _, s := range []string{option, value} {
		if containsSpace(s) {
			s = `"` + s + `"`
		}
		o.tokens = append(o.tokens, s)
	}
	return true
}

// AddFlag adds option only if enabled is true.
func (o *Options) AddFlag(option string, enabled bool) bool {
	if !enabled {
		return false
	}
	return o.Add(option)
}

// AddSwitch adds option and value concatenated into a single argument, e.g. "-o" and "file" become "-ofile".
// Nothing is added unless both are non-empty.
func (o *Options) AddSwitch(option, value string) bool {
	if option == "" || value == "" {
		return false
	}
	return o.Add(option + value)
}

// Append appends text to be sent to the child on standard input.
func (o *Options) Append(text string) error {
	return o.set(func() { o.stdin.WriteString(text) })
}

// AppendLines appends each line followed by a newline to the text sent on standard input.
func (o *Options) AppendLines(lines ...string) error {
	return o.set(func() {
		for _, l := range lines {
			o.stdin.WriteString(l)
			o.stdin.WriteByte('\n')
		}
	})
}

// StandardInput returns the buffered standard input text.
func (o *Options) StandardInput() string {
	o.mut.Lock()
	defer o.mut.Unlock()
	return o.stdin.String()
}

// HasStandardInput reports whether any standard input text was buffered.
func (o *Options) HasStandardInput() bool {
	o.mut.Lock()
	defer o.mut.Unlock()
	return o.stdin.Len() > 0
}

// FileName is the path of the executable.
func (o *Options) FileName() string { return o.fileName }

// Tokens returns a copy of the command line tokens in the order they were added.
func (o *Options) Tokens() []string {
	o.mut.Lock()
	defer o.mut.Unlock()
	return append([]string(nil), o.tokens...)
}

// Arguments returns the tokens joined by spaces.
func (o *Options) Arguments() string {
	o.mut.Lock()
	defer o.mut.Unlock()
	return strings.Join(o.tokens, " ")
}

// CommandLine returns the quoted executable path followed by the arguments.
func (o *Options) CommandLine() string {
	return strings.TrimSpace(`"` + o.fileName + `" ` + o.Arguments())
}

func (o *Options) String() string {
	s := o.CommandLine()
	if t := o.Timeout(); t > 0 {
		s += fmt.Sprintf(" (Timeout: %s)", t)
	}
	return s
}

// SetTimeout sets the wall-clock limit for the run. Zero disables the timeout.
func (o *Options) SetTimeout(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("negative timeout %s", d)
	}
	return o.set(func() { o.timeout = d })
}

// SetTimeoutSeconds is SetTimeout for a whole number of seconds.
func (o *Options) SetTimeoutSeconds(seconds int) error {
	return o.SetTimeout(time.Duration(seconds) * time.Second)
}

func (o *Options) Timeout() time.Duration {
	o.mut.Lock()
	defer o.mut.Unlock()
	return o.timeout
}

// SetWorkingDir sets the working directory of the child. Empty means the current directory.
func (o *Options) SetWorkingDir(dir string) error {
	return o.set(func() { o.workingDir = dir })
}

func (o *Options) WorkingDir() string {
	o.mut.Lock()
	defer o.mut.Unlock()
	return o.workingDir
}

// SetEnv overrides an environment variable of the child. All other variables are inherited.
func (o *Options) SetEnv(key, value string) error {
	if key == "" || strings.Contains(key, "=") {
		return fmt.Errorf("invalid environment variable name %q", key)
	}
	return o.set(func() { o.env[key] = value })
}

// Env returns a copy of the environment overrides.
func (o *Options) Env() map[string]string {
	o.mut.Lock()
	defer o.mut.Unlock()
	m := make(map[string]string, len(o.env))
	for k, v := range o.env {
		m[k] = v
	}
	return m
}

// environ merges the overrides over base, in "key=value" form.
func (o *Options) environ(base []string) []string {
	env := o.Env()
	if len(env) == 0 {
		return nil
	}
	merged := make([]string, 0, len(base)+len(env))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, ok := env[key]; ok {
			continue
		}
		merged = append(merged, kv)
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		merged = append(merged, k+"="+env[k])
	}
	return merged
}

// SetStdinEncoding sets the encoding used for text written to standard input. Nil writes UTF-8.
func (o *Options) SetStdinEncoding(e encoding.Encoding) error {
	return o.set(func() { o.stdinEncoding = e })
}

// SetStdoutEncoding sets the encoding of standard output. Nil reads UTF-8.
func (o *Options) SetStdoutEncoding(e encoding.Encoding) error {
	return o.set(func() { o.stdoutEncoding = e })
}

// SetStderrEncoding sets the encoding of standard error. Nil reads UTF-8.
func (o *Options) SetStderrEncoding(e encoding.Encoding) error {
	return o.set(func() { o.stderrEncoding = e })
}

func (o *Options) encodings() (stdin, stdout, stderr encoding.Encoding) {
	o.mut.Lock()
	defer o.mut.Unlock()
	return o.stdinEncoding, o.stdoutEncoding, o.stderrEncoding
}

// SetAutoCloseStdin controls whether standard input is closed once the buffered text has been written. Defaults to true.
// When disabled, the caller closes it with Process.Stdin().Close().
func (o *Options) SetAutoCloseStdin(b bool) error {
	return o.set(func() { o.autoCloseStdin = b })
}

func (o *Options) AutoCloseStdin() bool {
	o.mut.Lock()
	defer o.mut.Unlock()
	return o.autoCloseStdin
}

// SetLogStdout controls whether loggers such as the runner package log the child's standard output. Defaults to true.
func (o *Options) SetLogStdout(b bool) error {
	return o.set(func() { o.logStdout = b })
}

func (o *Options) LogStdout() bool {
	o.mut.Lock()
	defer o.mut.Unlock()
	return o.logStdout
}

// SetLogStderr controls whether loggers such as the runner package log the child's standard error. Defaults to true.
func (o *Options) SetLogStderr(b bool) error {
	return o.set(func() { o.logStderr = b })
}

func (o *Options) LogStderr() bool {
	o.mut.Lock()
	defer o.mut.Unlock()
	return o.logStderr
}

// LookupEncoding returns the text encoding with the given WHATWG name or label, such as "utf-8", "utf-16le" or "windows-1252".
// An empty name returns nil, meaning raw UTF-8.
func LookupEncoding(name string) (encoding.Encoding, error) {
	if name == "" {
		return nil, nil
	}
	e, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("looking up encoding %q: %w", name, err)
	}
	return e, nil
}
