// Package crawler holds the domain model of the segmented crawl: queries,
// creation-time sub-ranges, discovered entities, extracted sub-records,
// checkpoints and run summaries, plus the small collaborator interfaces
// (clock, IDs, publisher, blob store, result sink) the engine is wired with.
package crawler
