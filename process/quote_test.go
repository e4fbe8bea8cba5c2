package process

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuoteArgument(t *testing.T) {
	cases := []struct {
		arg      string
		expected string
	}{
		{arg: ``, expected: ``},
		{arg: `alpha`, expected: `alpha`},
		{arg: `alpha beta`, expected: `"alpha beta"`},
		{arg: `alpha "beta"`, expected: `"alpha \"beta\""`},
		{arg: `alpha \"beta"`, expected: `"alpha \\\"beta\""`},
		{arg: `alpha \\"beta"`, expected: `"alpha \\\\\"beta\""`},
		{arg: `alpha beta\`, expected: `"alpha beta\\"`},
		{arg: `alpha beta\\`, expected: `"alpha beta\\\\"`},
		{arg: `a\b c`, expected: `"a\b c"`},
		{arg: "tab\there", expected: "\"tab\there\""},
	}
	for _, c := range cases {
		t.Run(c.arg, func(t *testing.T) {
			assert.Equal(t, c.expected, QuoteArgument(c.arg))
		})
	}
}

func TestQuoteArgumentWithoutWhitespaceIsIdentity(t *testing.T) {
	for _, arg := range []string{`alpha`, `a"b`, `c:\dir\`, `\\server\share`, `--flag=value`} {
		assert.Equal(t, arg, QuoteArgument(arg))
		assert.Equal(t, arg, QuoteArgument(QuoteArgument(arg)), "quoting should be a fixed point")
	}
}

func TestQuoteArgumentRoundTrip(t *testing.T) {
	args := []string{
		`alpha beta`,
		`alpha "beta"`,
		`alpha \"beta"`,
		`alpha \\"beta"`,
		`alpha beta\`,
		`alpha beta\\`,
		`C:\Program Files\tool\`,
		`"leading and trailing"`,
		`  padded  `,
		`mixed \\ slashes \ and " quotes\\\"`,
	}
	for _, arg := range args {
		t.Run(arg, func(t *testing.T) {
			quoted := QuoteArgument(arg)
			assert.True(t, len(quoted) >= 2 && quoted[0] == '"' && quoted[len(quoted)-1] == '"')
			assert.Equal(t, []string{arg}, SplitArguments(quoted))
		})
	}

	var line string
	for _, arg := range args {
		line += QuoteArgument(arg) + " "
	}
	assert.Equal(t, args, SplitArguments(line))
}

func TestSplitArguments(t *testing.T) {
	cases := []struct {
		name     string
		cmdline  string
		expected []string
	}{
		{name: "empty", cmdline: ``, expected: nil},
		{name: "whitespace only", cmdline: "  \t ", expected: nil},
		{name: "simple", cmdline: `a b  c`, expected: []string{"a", "b", "c"}},
		{name: "quoted", cmdline: `"a b" c`, expected: []string{"a b", "c"}},
		{name: "empty quoted", cmdline: `"" x`, expected: []string{"", "x"}},
		{name: "backslashes without quote", cmdline: `a\\b\c`, expected: []string{`a\\b\c`}},
		{name: "even backslashes before quote", cmdline: `"a\\" b`, expected: []string{`a\`, "b"}},
		{name: "odd backslashes before quote", cmdline: `a\"b`, expected: []string{`a"b`}},
		{name: "doubled quote inside quotes", cmdline: `"a""b"`, expected: []string{`a"b`}},
		{name: "quote in middle", cmdline: `ab"c d"e`, expected: []string{"abc de"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.expected, SplitArguments(c.cmdline))
		})
	}
}
