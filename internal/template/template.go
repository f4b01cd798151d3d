// Package template renders the operator-configured system prompt. The
// variable registry is fixed; a template referencing anything outside it
// fails rendering rather than silently masking an operator typo.
package template

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"ibhelm.app/agent/internal/model"
)

var placeholderRe = regexp.MustCompile(`\{(\w+)\}`)

// Rendered timestamps follow the team's local time.
var localTZ = mustLoadLocation("Europe/Berlin")

// UnknownVariableError reports a placeholder outside the fixed registry.
// It indicates operator misconfiguration, not a runtime fault.
type UnknownVariableError struct {
	Name string
}

func (e *UnknownVariableError) Error() string {
	return fmt.Sprintf("template references unknown variable {%s}", e.Name)
}

// Variables lists the registry in a stable order, for agentctl's help output.
func Variables() []string {
	return []string{
		"current_datetime",
		"trigger_author",
		"trigger_instruction",
		"conversation_subject",
		"conversation_url",
		"project_name",
		"project_id",
		"emails_summary",
		"emails_metadata",
		"emails_count",
		"comments",
		"tasks",
		"anforderungen",
		"hinweise",
		"files",
		"craft_docs",
	}
}

// Render substitutes registry variables into the template. It is a pure
// function of its inputs: the timestamp comes from the bundle, so identical
// inputs produce byte-identical output. Brace sequences that don't match the
// placeholder grammar pass through untouched.
func Render(tmpl string, bundle *model.ContextBundle) (string, error) {
	values := bind(bundle)

	for _, m := range placeholderRe.FindAllStringSubmatch(tmpl, -1) {
		if _, ok := values[m[1]]; !ok {
			return "", &UnknownVariableError{Name: m[1]}
		}
	}

	return placeholderRe.ReplaceAllStringFunc(tmpl, func(match string) string {
		return values[match[1:len(match)-1]]
	}), nil
}

func bind(b *model.ContextBundle) map[string]string {
	instruction := b.TriggerInstruction
	if instruction == "" {
		instruction = "(no specific instruction)"
	}

	projectID := ""
	if b.ProjectID != nil {
		projectID = strconv.FormatInt(*b.ProjectID, 10)
	}

	return map[string]string{
		"current_datetime":     b.Now.In(localTZ).Format("Monday, 02 January 2006, 15:04"),
		"trigger_author":       b.TriggerAuthor,
		"trigger_instruction":  instruction,
		"conversation_subject": b.ConversationSubject,
		"conversation_url":     b.ConversationURL,
		"project_name":         b.ProjectName,
		"project_id":           projectID,
		"emails_summary":       formatEmailsSummary(b.Emails),
		"emails_metadata":      formatEmailsMetadata(b.EmailsMetadata),
		"emails_count":         strconv.Itoa(b.EmailsCount),
		"comments":             formatComments(b.Comments),
		"tasks":                formatTasks(b.Tasks, "Tasks"),
		"anforderungen":        formatTasks(b.Anforderungen, "Anforderungen"),
		"hinweise":             formatTasks(b.Hinweise, "Hinweise"),
		"files":                formatFiles(b.Files),
		"craft_docs":           formatCraftDocs(b.CraftDocs),
	}
}

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
