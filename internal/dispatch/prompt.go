package dispatch

import (
	"fmt"
	"strings"

	"taskdeck/internal/store"
)

// doneCriteria is the checklist every review must verify against the
// handoff notes.
var doneCriteria = []string{
	"Files changed: the notes enumerate every file that was touched",
	"How tested: the notes describe how the change was verified",
	"Edge cases / risks: known sharp edges and failure modes are called out",
	"Rollback plan: the notes explain how to undo the change if needed",
	"Commit hash: the notes reference the commit under review",
}

// buildReviewPrompt renders the instruction block handed to the QA agent.
// The token must be echoed back in the status update so the dispatcher can
// correlate the worker's follow-up write with this dispatch.
func buildReviewPrompt(task *store.Task, token string) string {
	var b strings.Builder

	b.WriteString("You are the QA reviewer for a task that just entered review.\n\n")

	b.WriteString("## Task\n")
	fmt.Fprintf(&b, "- ID: %s\n", task.ID)
	fmt.Fprintf(&b, "- Title: %s\n", task.Title)
	if task.ProjectID != "" {
		fmt.Fprintf(&b, "- Project: %s\n", task.ProjectID)
	}
	if task.Description != "" {
		fmt.Fprintf(&b, "- Description: %s\n", task.Description)
	}
	if task.CommitSHA != "" {
		fmt.Fprintf(&b, "- Commit: %s\n", task.CommitSHA)
	}

	b.WriteString("\n## Handoff notes\n")
	b.WriteString(task.HandoffNotes)
	b.WriteString("\n")

	b.WriteString("\n## Done criteria\n")
	b.WriteString("Check the handoff notes against every item:\n")
	for i, c := range doneCriteria {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c)
	}

	b.WriteString("\n## Required follow-up\n")
	b.WriteString("Make exactly these two API calls, in order:\n")
	fmt.Fprintf(&b, "1. POST /api/tasks/%s/comments with your findings "+
		"(author_type \"agent\").\n", task.ID)
	fmt.Fprintf(&b, "2. PATCH /api/tasks/%s/status with {\"status\": \"done\"} if every "+
		"criterion passes, or {\"status\": \"in-progress\"} if any fails. Include "+
		"{\"review_token\": %q} in the body.\n", task.ID, token)

	return b.String()
}
