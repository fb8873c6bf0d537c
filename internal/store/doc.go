// Package store defines interfaces for persistence dependencies (checkpoint
// and dedup repositories). Implementations live in internal/storage; this
// package must not import database drivers or concrete clients.
package store
