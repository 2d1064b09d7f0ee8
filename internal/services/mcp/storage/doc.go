// Package storage defines the annotation persistence contract.
//
// Annotations are schema-free documents attached to ledger entities and keyed
// by (entity type, entity id, budget id). Backends live in subpackages: mongo
// for the document database and sqlite for the embedded fallback. Both enforce
// the one-record-per-key rule with a unique index and resolve concurrent first
// writes through an atomic upsert.
package storage
