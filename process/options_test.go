package process

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

func TestOptionsAdd(t *testing.T) {
	opts := NewOptions("tool")

	assert.False(t, opts.Add(""))
	assert.True(t, opts.Add("alpha"))
	assert.True(t, opts.Add("alpha beta"))
	assert.True(t, opts.Add(`say "hi" there`))
	assert.False(t, opts.AddValue(nil))
	assert.True(t, opts.AddValue(42))

	assert.Equal(t, []string{"alpha", `"alpha beta"`, `"say "hi" there"`, "42"}, opts.Tokens())
	assert.Equal(t, `alpha "alpha beta" "say "hi" there" 42`, opts.Arguments())
}

func TestOptionsAddOptionAndSwitch(t *testing.T) {
	cases := []struct {
		name     string
		add      func(o *Options) bool
		added    bool
		expected string
	}{
		{name: "option", add: func(o *Options) bool { return o.AddOption("-o", "out file") }, added: true, expected: `-o "out file"`},
		{name: "option without value", add: func(o *Options) bool { return o.AddOption("-o", "") }},
		{name: "option without name", add: func(o *Options) bool { return o.AddOption("", "v") }},
		{name: "switch", add: func(o *Options) bool { return o.AddSwitch("-o", "out") }, added: true, expected: "-oout"},
		{name: "switch with space", add: func(o *Options) bool { return o.AddSwitch("/out:", "a b") }, added: true, expected: `"/out:a b"`},
		{name: "switch without value", add: func(o *Options) bool { return o.AddSwitch("-o", "") }},
		{name: "flag enabled", add: func(o *Options) bool { return o.AddFlag("--verbose", true) }, added: true, expected: "--verbose"},
		{name: "flag disabled", add: func(o *Options) bool { return o.AddFlag("--verbose", false) }},
		{name: "escaped", add: func(o *Options) bool { return o.AddEscaped(`a "b"`) }, added: true, expected: `"a \"b\""`},
		{name: "all", add: func(o *Options) bool { return o.AddAll("", "x", "", "y") }, added: true, expected: "x y"},
		{name: "all empty", add: func(o *Options) bool { return o.AddAll("", "") }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			opts := NewOptions("tool")
			assert.Equal(t, c.added, c.add(opts))
			assert.Equal(t, c.expected, opts.Arguments())
		})
	}
}

func TestOptionsCommandLine(t *testing.T) {
	opts := NewOptions(`C:\Program Files\tool.exe`, "a", "b c")
	assert.Equal(t, `"C:\Program Files\tool.exe" a "b c"`, opts.CommandLine())
	assert.Equal(t, `"tool"`, NewOptions("tool").CommandLine())

	require.NoError(t, opts.SetTimeoutSeconds(5))
	assert.Equal(t, `"C:\Program Files\tool.exe" a "b c" (Timeout: 5s)`, opts.String())
	assert.Equal(t, 5*time.Second, opts.Timeout())
	assert.Error(t, opts.SetTimeout(-time.Second))
}

func TestOptionsStandardInput(t *testing.T) {
	opts := NewOptions("tool")
	assert.False(t, opts.HasStandardInput())

	require.NoError(t, opts.Append("first "))
	require.NoError(t, opts.AppendLines("line one", "line two"))
	require.NoError(t, opts.AppendLines())

	assert.True(t, opts.HasStandardInput())
	assert.Equal(t, "first line one\nline two\n", opts.StandardInput())
}

func TestOptionsDefaults(t *testing.T) {
	opts := NewOptions("tool")
	assert.True(t, opts.AutoCloseStdin())
	assert.True(t, opts.LogStdout())
	assert.True(t, opts.LogStderr())
	assert.Zero(t, opts.Timeout())
	assert.Empty(t, opts.WorkingDir())
	assert.Empty(t, opts.Env())
}

func TestOptionsEnviron(t *testing.T) {
	opts := NewOptions("tool")
	assert.Nil(t, opts.environ([]string{"A=1"}), "no overrides inherits the environment")

	require.NoError(t, opts.SetEnv("B", "new"))
	require.NoError(t, opts.SetEnv("C", "3"))
	assert.Error(t, opts.SetEnv("", "x"))
	assert.Error(t, opts.SetEnv("X=Y", "x"))

	assert.Equal(t, []string{"A=1", "D=4", "B=new", "C=3"}, opts.environ([]string{"A=1", "B=old", "D=4"}))
}

func TestOptionsFrozen(t *testing.T) {
	opts := NewOptions("tool", "a")
	opts.freeze()

	assert.True(t, opts.Frozen())
	assert.False(t, opts.Add("b"))
	assert.False(t, opts.AddOption("-o", "x"))
	assert.False(t, opts.AddSwitch("-o", "x"))
	assert.ErrorIs(t, opts.Append("x"), ErrAlreadyStarted)
	assert.ErrorIs(t, opts.AppendLines("x"), ErrAlreadyStarted)
	assert.ErrorIs(t, opts.SetTimeout(time.Second), ErrAlreadyStarted)
	assert.ErrorIs(t, opts.SetWorkingDir("/"), ErrAlreadyStarted)
	assert.ErrorIs(t, opts.SetEnv("A", "B"), ErrAlreadyStarted)
	assert.ErrorIs(t, opts.SetStdoutEncoding(nil), ErrAlreadyStarted)
	assert.ErrorIs(t, opts.SetAutoCloseStdin(false), ErrAlreadyStarted)
	assert.ErrorIs(t, opts.SetLogStdout(false), ErrAlreadyStarted)
	assert.Equal(t, "a", opts.Arguments())
}

func TestLookupEncoding(t *testing.T) {
	e, err := LookupEncoding("")
	require.NoError(t, err)
	assert.Nil(t, e)

	e, err = LookupEncoding("utf-8")
	require.NoError(t, err)
	assert.Equal(t, unicode.UTF8, e)

	e, err = LookupEncoding("windows-1252")
	require.NoError(t, err)
	assert.Equal(t, charmap.Windows1252, e)

	_, err = LookupEncoding("no-such-encoding")
	assert.Error(t, err)
}
