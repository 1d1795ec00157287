package task

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSummarizeBounds(t *testing.T) {
	t.Parallel()

	require.Equal(t, "fix the tests", summarize("fix the tests", 72))
	require.Equal(t, "collapsed whitespace", summarize("collapsed \n\t whitespace", 72))

	long := summarize(strings.Repeat("word ", 50), 72)
	require.LessOrEqual(t, len([]rune(long)), 72)
	require.True(t, strings.HasSuffix(long, "…"))
}

func TestCommitMessageShape(t *testing.T) {
	t.Parallel()

	short := commitMessage("fix the tests")
	require.Equal(t, "Claude Mobile task: fix the tests", short)

	long := commitMessage(strings.Repeat("a very long description ", 10))
	lines := strings.SplitN(long, "\n", 3)
	require.True(t, strings.HasPrefix(lines[0], "Claude Mobile task: "))
	require.LessOrEqual(t, len([]rune(lines[0])), len("Claude Mobile task: ")+72)
	require.Len(t, lines, 3, "long contexts carry a body")
	require.Empty(t, lines[1])
}

func TestPRTitleAndBody(t *testing.T) {
	t.Parallel()

	require.Equal(t, "[Claude Mobile] fix the tests", prTitle("fix the tests"))

	body := prBody("fix the tests", "claude-mobile/fix-the-tests-abc")
	require.Contains(t, body, "> fix the tests")
	require.Contains(t, body, "`claude-mobile/fix-the-tests-abc`")
}
