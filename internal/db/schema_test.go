package db

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/surrealdb/surrealdb.go"
)

func TestSchemaSQL(t *testing.T) {
	sql := schemaSQL(1536, DistCosine)

	assert.Contains(t, sql, "HNSW DIMENSION 1536 DIST COSINE TYPE F32")
	assert.Contains(t, sql, "DEFINE TABLE IF NOT EXISTS memory SCHEMAFULL")
	assert.Contains(t, sql, "DEFINE TABLE IF NOT EXISTS store_meta SCHEMAFULL")
	assert.Equal(t, 1, strings.Count(sql, "HNSW"))

	assert.Contains(t, schemaSQL(8, DistEuclidean), "DIST EUCLIDEAN")
}

func TestWrapQueryError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		conflict bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("socket closed"), false},
		{"conflict", &surrealdb.QueryError{Message: "Transaction conflict: resource busy"}, true},
		{"wrapped conflict", fmt.Errorf("query: %w", &surrealdb.QueryError{Message: "Transaction conflict"}), true},
		{"other query error", &surrealdb.QueryError{Message: "Parse error"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := wrapQueryError(tt.err)
			assert.Equal(t, tt.conflict, errors.Is(got, ErrTransactionConflict))
			if tt.err == nil {
				assert.NoError(t, got)
			}
		})
	}
}
