package task

import "strings"

// summarize collapses free-form task context into a single line of at
// most max characters, for commit subjects and PR titles.
func summarize(context string, max int) string {
	line := strings.Join(strings.Fields(context), " ")
	runes := []rune(line)
	if len(runes) <= max {
		return line
	}
	return strings.TrimSpace(string(runes[:max-1])) + "…"
}

// commitMessage builds the task commit: a bounded subject line plus
// the full context in the body.
func commitMessage(context string) string {
	subject := "Claude Mobile task: " + summarize(context, 72)
	body := strings.TrimSpace(context)
	if body == "" || body == summarize(context, 72) {
		return subject
	}
	return subject + "\n\n" + body
}

// prTitle builds the pull request title.
func prTitle(context string) string {
	return "[Claude Mobile] " + summarize(context, 80)
}

// prBody builds the pull request body, referencing the task and the
// branch the work landed on.
func prBody(context, branch string) string {
	var b strings.Builder
	b.WriteString("Automated change produced by a Claude Mobile task.\n\n")
	b.WriteString("Task:\n\n")
	b.WriteString("> " + strings.ReplaceAll(strings.TrimSpace(context), "\n", "\n> "))
	b.WriteString("\n\nBranch: `" + branch + "`\n")
	return b.String()
}
