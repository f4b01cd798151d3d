package model

import "time"

// ProjectUnassigned is the sentinel rendered when a conversation has no
// linked project. The renderer never sees an absent value.
const ProjectUnassigned = "Not assigned"

// Email is one message of a conversation with its (truncated) body.
type Email struct {
	ID          string
	Subject     string
	FromName    string
	FromEmail   string
	DeliveredAt string
	Body        string
}

// EmailMeta is the compact per-message listing kept for the whole
// conversation, bodies excluded.
type EmailMeta struct {
	ID          string
	Subject     string
	FromName    string
	FromEmail   string
	DeliveredAt string
}

// Comment is one entry of the conversation's team comment thread.
type Comment struct {
	AuthorName string
	CreatedAt  string
	Body       string
}

// TaskItem covers tasks, Anforderungen and Hinweise from the unified items
// view; they share a shape and differ only by type slug.
type TaskItem struct {
	ID         int64
	Name       string
	Status     string
	AssignedTo string
	UpdatedAt  string
	Tasklist   string
}

// File is a recently changed project file.
type File struct {
	Name      string
	Path      string
	UpdatedAt string
}

// CraftDoc is a Craft document linked to the project.
type CraftDoc struct {
	ID         string
	Title      string
	ModifiedAt string
}

// ContextBundle aggregates everything the prompt template may reference for
// one trigger. It is built fresh per trigger, bounded in every list-shaped
// field, and discarded after rendering.
//
// Now carries the assembly time so rendering stays a pure function of the
// bundle; agentctl relies on that for reproducible dry runs.
type ContextBundle struct {
	TriggerAuthor      string
	TriggerInstruction string

	ConversationID      string
	ConversationSubject string
	ConversationURL     string

	ProjectName string
	ProjectID   *int64

	Emails         []Email
	EmailsMetadata []EmailMeta
	EmailsCount    int

	Comments []Comment

	Tasks         []TaskItem
	Anforderungen []TaskItem
	Hinweise      []TaskItem

	Files     []File
	CraftDocs []CraftDoc

	Now time.Time
}
