package workspace

import (
	"strconv"
	"strings"
	"time"
)

// branchPrefix namespaces every task branch the agent creates.
const branchPrefix = "claude-mobile/"

// slugMax bounds the human-readable part of a branch name.
const slugMax = 50

// Slug condenses free-form task context into a branch-safe fragment:
// lowercased, truncated to 50 characters, non-alphanumeric runs
// collapsed to single hyphens, hyphens trimmed from the edges.
func Slug(context string) string {
	lowered := strings.ToLower(context)

	runes := []rune(lowered)
	if len(runes) > slugMax {
		runes = runes[:slugMax]
	}

	var b strings.Builder
	hyphenPending := false
	for _, r := range runes {
		alnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if alnum {
			if hyphenPending && b.Len() > 0 {
				b.WriteByte('-')
			}
			hyphenPending = false
			b.WriteRune(r)
			continue
		}
		hyphenPending = true
	}
	return b.String()
}

// BranchName derives the task branch for a context at a point in time:
// claude-mobile/<slug>-<base36 unix timestamp>.
func BranchName(context string, now time.Time) string {
	slug := Slug(context)
	stamp := strconv.FormatInt(now.Unix(), 36)
	if slug == "" {
		return branchPrefix + "task-" + stamp
	}
	return branchPrefix + slug + "-" + stamp
}
