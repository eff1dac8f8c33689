// Package database provides connection pool management for the PostgreSQL
// database backing the connection journal.
package database
