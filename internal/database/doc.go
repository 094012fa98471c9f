// Package database provides the PostgreSQL connection pool backing the
// transition journal.
package database
