package models

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestValidateNamespace(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"simple", "alice", false},
		{"email", "bob@example.com", false},
		{"dotted", "user.42_x-y", false},
		{"empty", "", true},
		{"leading underscore", "_corpus", true},
		{"space", "al ice", true},
		{"slash", "../etc", true},
		{"too long", strings.Repeat("a", 129), true},
		{"max length", strings.Repeat("a", 128), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateNamespace(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidNamespace)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMemoryRecordValidate(t *testing.T) {
	valid := MemoryRecord{ID: "1", Namespace: "alice", Kind: KindFact, Text: "likes tea", Vector: []float32{1, 0}}

	tests := []struct {
		name    string
		mutate  func(*MemoryRecord)
		wantErr string
	}{
		{"valid", func(*MemoryRecord) {}, ""},
		{"missing id", func(r *MemoryRecord) { r.ID = "" }, "id is empty"},
		{"missing namespace", func(r *MemoryRecord) { r.Namespace = "" }, "namespace is empty"},
		{"missing text", func(r *MemoryRecord) { r.Text = "" }, "text is empty"},
		{"unknown kind", func(r *MemoryRecord) { r.Kind = "note" }, "unknown record kind"},
		{"wrong dimension", func(r *MemoryRecord) { r.Vector = []float32{1, 0, 0} }, "vector dimension 3, want 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := valid
			tt.mutate(&rec)
			err := rec.Validate(2)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDimensionErrorAs(t *testing.T) {
	rec := MemoryRecord{ID: "1", Namespace: "a", Kind: KindReply, Text: "x", Vector: []float32{1}}
	err := rec.Validate(4)

	var dimErr *DimensionError
	require.True(t, errors.As(err, &dimErr))
	assert.Equal(t, 4, dimErr.Want)
	assert.Equal(t, 1, dimErr.Got)
}

func TestCorpusRecordConversion(t *testing.T) {
	c := CorpusRecord{ID: "c1", Text: "breathing exercises", Vector: []float32{0.5}, Source: "guide.txt", Position: 2}
	rec := c.MemoryRecord(testTime)

	assert.Equal(t, CorpusNamespace, rec.Namespace)
	assert.Equal(t, KindCorpus, rec.Kind)
	assert.Equal(t, "guide.txt", rec.SessionID)
	assert.NoError(t, rec.Validate(1))
}

func TestNewSessionID(t *testing.T) {
	a, b := NewSessionID(), NewSessionID()
	assert.Len(t, a, 8)
	assert.NotEqual(t, a, b)
}
