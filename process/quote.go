package process

import (
	"strings"
	"unicode"
)

func containsSpace(s string) bool {
	return strings.IndexFunc(s, unicode.IsSpace) >= 0
}

// QuoteArgument escapes a single argument so that it can be placed in a command line and recovered exactly by SplitArguments
// (or any parser using the Windows C runtime argv rules).
//
// Arguments without whitespace are returned unchanged. Otherwise the argument is wrapped in quotes, literal quotes are escaped
// with a backslash, and runs of backslashes that end up in front of a quote are doubled.
func QuoteArgument(arg string) string {
	if !containsSpace(arg) {
		return arg
	}

	var b strings.Builder
	b.Grow(len(arg) + 2)
	b.WriteByte('"')
	for i := 0; i < len(arg); {
		backslashes := 0
		for i < len(arg) && arg[i] == '\\' {
			backslashes++
			i++
		}
		switch {
		case i == len(arg):
			// the closing quote follows
			b.WriteString(strings.Repeat(`\`, backslashes*2))
		case arg[i] == '"':
			b.WriteString(strings.Repeat(`\`, backslashes*2))
			b.WriteString(`\"`)
			i++
		default:
			b.WriteString(strings.Repeat(`\`, backslashes))
			b.WriteByte(arg[i])
			i++
		}
	}
	b.WriteByte('"')
	return b.String()
}

// SplitArguments splits a command line into arguments using the Windows C runtime rules:
//
//   - arguments are separated by unquoted whitespace
//   - 2n backslashes followed by a quote produce n backslashes and toggle quoting
//   - 2n+1 backslashes followed by a quote produce n backslashes and a literal quote
//   - backslashes not followed by a quote are literal
//   - two quotes in a row inside a quoted region produce a literal quote
func SplitArguments(cmdline string) []string {
	var (
		args    []string
		cur     strings.Builder
		inArg   bool
		quoted  bool
		runes   = []rune(cmdline)
		pending int
	)
	flushBackslashes := func() {
		cur.WriteString(strings.Repeat(`\`, pending))
		pending = 0
	}
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\\':
			pending++
			inArg = true
		case r == '"':
			cur.WriteString(strings.Repeat(`\`, pending/2))
			odd := pending%2 == 1
			pending = 0
			inArg = true
			if odd {
				cur.WriteRune('"')
				continue
			}
			if quoted && i+1 < len(runes) && runes[i+1] == '"' {
				cur.WriteRune('"')
				i++
				continue
			}
			quoted = !quoted
		case unicode.IsSpace(r) && !quoted:
			flushBackslashes()
			if inArg {
				args = append(args, cur.String())
				cur.Reset()
				inArg = false
			}
		default:
			flushBackslashes()
			cur.WriteRune(r)
			inArg = true
		}
	}
	flushBackslashes()
	if inArg {
		args = append(args, cur.String())
	}
	return args
}
