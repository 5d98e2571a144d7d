// Package cleanup garbage-collects the debris a long-running fleet
// accumulates: stopped instances left behind by past replacements, and
// images no longer referenced by any service spec or rollback record.
//
// Removal is deliberately conservative. Running instances are never
// touched. The last known instance of each service is kept even when
// stopped, because it may still serve as the rollback target of the next
// replacement. Everything else must be older than a configurable minimum
// age (31 days by default) before it is removed, so an operator
// investigating a recent incident still finds the evidence in place.
//
// A dry-run mode reports what a pass would remove without acting.
package cleanup
