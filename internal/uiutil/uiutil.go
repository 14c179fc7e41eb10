// Package uiutil renders the small, fixed vocabulary of terminal output
// stck produces: colorized error lines, echoed subprocess invocations,
// and humanized run summaries. Grounded on av's
// internal/utils/colors.colorutils.go and render_error.go, simplified
// for a non-interactive CLI that never needs glamour/lipgloss markdown
// rendering.
package uiutil

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/kballard/go-shellquote"
)

var (
	failureC = color.New(color.FgRed)
	cliCmdC  = color.New(color.FgMagenta)
)

// RenderError formats an error as the single diagnostic line spec.md §7
// requires: "error: <message>" on stderr, with the "error:" prefix in
// red when the output stream is a terminal.
func RenderError(err error) string {
	return fmt.Sprintf("%s %s\n", failureC.Sprint("error:"), err.Error())
}

// EchoCommand formats a subprocess invocation the way sync/push print it
// before running it: "$ <cmd>", shell-quoting any argument that needs it
// so the line is safe to copy-paste and rerun.
func EchoCommand(argv []string) string {
	return cliCmdC.Sprint("$ ") + shellquote.Join(argv...)
}

// PushSummary renders push's final summary line, per spec.md §6's exact
// wording: "Push succeeded. Pushed N branch(es) and applied M PR base
// update(s) in this run."
func PushSummary(pushed, retargeted int) string {
	return fmt.Sprintf(
		"Push succeeded. Pushed %s branch(es) and applied %s PR base update(s) in this run.",
		humanize.Comma(int64(pushed)),
		humanize.Comma(int64(retargeted)),
	)
}

// StackHeader renders status's leading "Stack: <default> <- <br0> <- ..."
// line.
func StackHeader(defaultBranch string, branches []string) string {
	parts := append([]string{defaultBranch}, branches...)
	return "Stack: " + strings.Join(parts, " <- ")
}
