package template

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"ibhelm.app/agent/internal/model"
)

func formatEmailsSummary(emails []model.Email) string {
	if len(emails) == 0 {
		return "(No emails in conversation)"
	}

	var lines []string
	for i, email := range emails {
		lines = append(lines,
			fmt.Sprintf("--- Email %d ---", i+1),
			fmt.Sprintf("ID: %s", email.ID),
			fmt.Sprintf("From: %s <%s>", email.FromName, email.FromEmail),
			fmt.Sprintf("Subject: %s", email.Subject),
			fmt.Sprintf("Date: %s", email.DeliveredAt),
			fmt.Sprintf("Body:\n%s", email.Body),
			"",
		)
	}
	return strings.Join(lines, "\n")
}

func formatEmailsMetadata(metadata []model.EmailMeta) string {
	if len(metadata) == 0 {
		return "(No emails)"
	}

	var lines []string
	for _, m := range metadata {
		lines = append(lines, fmt.Sprintf("- [%s...] %s | %s | %s",
			clip(m.ID, 8), clip(m.DeliveredAt, 10), m.FromName, m.Subject))
	}
	return strings.Join(lines, "\n")
}

func formatComments(comments []model.Comment) string {
	if len(comments) == 0 {
		return "(No comments)"
	}

	var lines []string
	for _, c := range comments {
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", c.CreatedAt, c.AuthorName, c.Body))
	}
	return strings.Join(lines, "\n")
}

func formatTasks(tasks []model.TaskItem, label string) string {
	if len(tasks) == 0 {
		return fmt.Sprintf("(No %s)", strings.ToLower(label))
	}

	lines := []string{label + ":"}
	for _, t := range tasks {
		lines = append(lines,
			fmt.Sprintf("- [%d] %s", t.ID, t.Name),
			fmt.Sprintf("  Status: %s | Assigned: %s | Tasklist: %s", t.Status, t.AssignedTo, t.Tasklist),
			fmt.Sprintf("  Updated: %s", t.UpdatedAt),
		)
	}
	return strings.Join(lines, "\n")
}

func formatFiles(files []model.File) string {
	if len(files) == 0 {
		return "(No files)"
	}

	var lines []string
	for _, f := range files {
		lines = append(lines,
			fmt.Sprintf("- %s", f.Name),
			fmt.Sprintf("  Path: %s", f.Path),
			fmt.Sprintf("  Updated: %s", f.UpdatedAt),
		)
	}
	return strings.Join(lines, "\n")
}

func formatCraftDocs(docs []model.CraftDoc) string {
	if len(docs) == 0 {
		return "(No Craft documents)"
	}

	var lines []string
	for _, d := range docs {
		lines = append(lines, fmt.Sprintf("- [%s] %s (modified: %s)", d.ID, d.Title, d.ModifiedAt))
	}
	return strings.Join(lines, "\n")
}

// clip cuts at the budget without severing a multibyte character.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
