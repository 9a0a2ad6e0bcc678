package session

import (
	"fmt"
	"io"
	"strings"
)

const (
	ansiReset = "\033[0m"
	ansiBold  = "\033[1m"
	ansiDim   = "\033[2m"
	ansiRed   = "\033[31m"
	ansiCyan  = "\033[36m"
)

// term writes to the terminal, with ANSI styling only when color is set.
type term struct {
	out   io.Writer
	color bool
}

func (t *term) style(code, s string) string {
	if !t.color {
		return s
	}
	return code + s + ansiReset
}

func (t *term) printf(format string, args ...interface{}) {
	fmt.Fprintf(t.out, format, args...)
}

func (t *term) println(s string) {
	fmt.Fprintln(t.out, s)
}

func (t *term) prompt(s string) {
	fmt.Fprint(t.out, t.style(ansiCyan, s))
}

func (t *term) title(s string) {
	fmt.Fprintln(t.out, t.style(ansiBold, s))
}

func (t *term) dim(s string) {
	fmt.Fprintln(t.out, t.style(ansiDim, s))
}

func (t *term) errorf(err error) {
	fmt.Fprintln(t.out, t.style(ansiRed, "error: "+err.Error()))
}

// answer prints the analysis verbatim between two rules.
func (t *term) answer(text string) {
	rule := t.style(ansiDim, strings.Repeat("─", 60))
	fmt.Fprintln(t.out, rule)
	fmt.Fprintln(t.out, text)
	fmt.Fprintln(t.out, rule)
}
