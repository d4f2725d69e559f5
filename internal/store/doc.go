// Package store records tool invocations for later inspection.
//
// Two backends implement Store:
//
//   - SQLiteStore: persistent ledger (modernc.org/sqlite, WAL mode), used when
//     database.path is configured
//   - MemoryStore: bounded in-memory ledger, used otherwise
//
// Rows are listed newest first and can be filtered by agent, tool, and time.
// The ledger is observational only; the context store is never persisted.
package store
