package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Ticket is one ingested work ticket. Comments is the concatenated comment
// thread, newline-separated.
type Ticket struct {
	Key         string
	Summary     string
	Description string
	Comments    string
	Assignee    string
	Created     time.Time
	Resolved    *time.Time
}

// FullText is the text a ticket is embedded from: summary, description, and
// comments joined in that order.
func (t Ticket) FullText() string {
	text := t.Summary
	if t.Description != "" {
		text += "\n\n" + t.Description
	}
	if t.Comments != "" {
		text += "\n\n" + t.Comments
	}
	return text
}

// Vector is a cached embedding for a (ticket, model) pair. ContentHash
// fingerprints the embedded text so stale vectors are recomputed after the
// ticket changes.
type Vector struct {
	Key         string
	Model       string
	ContentHash string
	Embedding   []float32
	UpdatedAt   time.Time
}
