// Package store is the engine's persistent local store.
//
// It owns six SQLite tables: documents (collection property maps),
// versions (the per-document version ledger), batch_log (the
// append-only mutation-intent log), snapshots (pre-mutation "base"
// records for three-way merge), conflicts (the version-conflict
// ledger), and replay_queue (requests awaiting connectivity).
//
// Access is split one file per table. The store carries no concurrency
// logic of its own; callers serialize multi-step read-modify-write
// workflows through the critical section in internal/mutex.
package store
