package uiutil_test

import (
	"testing"

	"github.com/brdv/stck/internal/uiutil"
	"github.com/stretchr/testify/assert"
)

func TestRenderError(t *testing.T) {
	out := uiutil.RenderError(assertError("no PR found for branch feature-z; create a PR first"))
	assert.Contains(t, out, "error:")
	assert.Contains(t, out, "no PR found for branch feature-z")
}

func TestEchoCommand_QuotesArgsThatNeedIt(t *testing.T) {
	out := uiutil.EchoCommand([]string{"git", "commit", "-m", "fix: handle edge case"})
	assert.Contains(t, out, "$ ")
	assert.Contains(t, out, `'fix: handle edge case'`)
}

func TestPushSummary(t *testing.T) {
	out := uiutil.PushSummary(2, 2)
	assert.Equal(t, "Push succeeded. Pushed 2 branch(es) and applied 2 PR base update(s) in this run.", out)
}

func TestStackHeader(t *testing.T) {
	out := uiutil.StackHeader("main", []string{"feature-base", "feature-mid"})
	assert.Equal(t, "Stack: main <- feature-base <- feature-mid", out)
}

type assertError string

func (e assertError) Error() string { return string(e) }
