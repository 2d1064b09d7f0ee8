// Package mongo stores annotations in a MongoDB collection.
//
// Records are keyed by a unique compound index on (entityType, entityId,
// budgetId) with secondary indexes on budgetId and entityType. Writes are a
// single FindOneAndUpdate upsert so concurrent first writes converge on one
// document.
package mongo
