// Package sqlite stores annotations in an embedded SQLite file. It is the
// fallback when no document database is configured.
package sqlite
