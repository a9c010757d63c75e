// Package models defines the data structures shared by the mindmate memory subsystem.
package models

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Kind classifies a memory record.
type Kind string

const (
	KindUtterance Kind = "utterance"
	KindReply     Kind = "reply"
	KindFact      Kind = "fact"
	// KindCorpus is reserved for records in the shared corpus namespace.
	KindCorpus Kind = "corpus"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindUtterance, KindReply, KindFact, KindCorpus:
		return true
	}
	return false
}

// ConversationKinds are the kinds searched for relevant earlier exchanges.
var ConversationKinds = []Kind{KindUtterance, KindReply}

// CorpusNamespace holds the shared knowledge corpus. User namespaces
// cannot start with an underscore, so it never collides with one.
const CorpusNamespace = "_corpus"

var namespacePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._@-]{0,127}$`)

// ErrInvalidNamespace is returned for malformed user namespaces.
var ErrInvalidNamespace = errors.New("invalid namespace")

// ValidateNamespace checks that ns is usable as a user namespace.
func ValidateNamespace(ns string) error {
	if !namespacePattern.MatchString(ns) {
		return fmt.Errorf("%w: %q", ErrInvalidNamespace, ns)
	}
	return nil
}

// MemoryRecord is one durable unit of memory owned by a single namespace.
type MemoryRecord struct {
	ID        string    `json:"id"`
	Namespace string    `json:"namespace"`
	SessionID string    `json:"session_id,omitempty"`
	Kind      Kind      `json:"kind"`
	Text      string    `json:"text"`
	Vector    []float32 `json:"vector,omitempty"`
	Emotion   string    `json:"emotion,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the record against a store of dimension dim.
func (r MemoryRecord) Validate(dim int) error {
	switch {
	case r.ID == "":
		return errors.New("record id is empty")
	case r.Namespace == "":
		return errors.New("record namespace is empty")
	case r.Text == "":
		return errors.New("record text is empty")
	case !r.Kind.Valid():
		return fmt.Errorf("unknown record kind %q", r.Kind)
	case len(r.Vector) != dim:
		return &DimensionError{Want: dim, Got: len(r.Vector)}
	}
	return nil
}

// DimensionError reports a vector whose length differs from the expected dimension.
type DimensionError struct {
	Want int
	Got  int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("vector dimension %d, want %d", e.Got, e.Want)
}

// CorpusRecord is a chunk of the shared knowledge corpus.
type CorpusRecord struct {
	ID       string    `json:"id"`
	Text     string    `json:"text"`
	Vector   []float32 `json:"vector,omitempty"`
	Source   string    `json:"source"`
	Section  string    `json:"section,omitempty"`
	Position int       `json:"position"`
}

// MemoryRecord converts the corpus chunk into a record of the corpus namespace.
// The source file name is carried in SessionID.
func (c CorpusRecord) MemoryRecord(createdAt time.Time) MemoryRecord {
	return MemoryRecord{
		ID:        c.ID,
		Namespace: CorpusNamespace,
		SessionID: c.Source,
		Kind:      KindCorpus,
		Text:      c.Text,
		Vector:    c.Vector,
		CreatedAt: createdAt,
	}
}
