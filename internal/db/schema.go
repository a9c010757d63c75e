package db

import "fmt"

// schemaSQL defines the memory table. Records are keyed by [namespace, id]
// so the same id may exist in different namespaces.
func schemaSQL(dimension int, dist string) string {
	return fmt.Sprintf(`
    DEFINE TABLE IF NOT EXISTS memory SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS ns ON memory TYPE string;
    DEFINE FIELD IF NOT EXISTS key ON memory TYPE string;
    DEFINE FIELD IF NOT EXISTS session ON memory TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS kind ON memory TYPE string;
    DEFINE FIELD IF NOT EXISTS text ON memory TYPE string;
    DEFINE FIELD IF NOT EXISTS emotion ON memory TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS embedding ON memory TYPE array<float>;
    DEFINE FIELD IF NOT EXISTS created_at ON memory TYPE datetime;

    DEFINE INDEX IF NOT EXISTS memory_ns_kind ON memory FIELDS ns, kind;
    DEFINE INDEX IF NOT EXISTS memory_ns_created ON memory FIELDS ns, created_at;
    DEFINE INDEX IF NOT EXISTS memory_embedding ON memory FIELDS embedding HNSW DIMENSION %d DIST %s TYPE F32;

    DEFINE TABLE IF NOT EXISTS store_meta SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS metric ON store_meta TYPE string;
    DEFINE FIELD IF NOT EXISTS dimension ON store_meta TYPE int;
`, dimension, dist)
}
