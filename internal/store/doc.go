// Package store provides persistent storage for notification events using SQLite.
//
// # Architecture
//
// Store is the single interface consumed by the notification layer. It covers
// three concerns:
//
//   - Event persistence: SaveEvent and GetEvent for published notifications
//   - Catch-up reads: QueryEvents(audience, since, limit), oldest first
//   - Conversation membership: which users may follow a vehicle's chat
//
// SQLiteStore implements Store against a database file; MockStore implements it
// in memory and lets tests inject query and ping failures.
//
// # Data Model
//
//   - Event: one notification addressed to exactly one audience string
//     ("admin-broadcast", "conversation:{vehicleId}", "user:{userId}")
//
// OccurredAt is stored as unix nanoseconds. Watermarks taken from delivered
// events therefore compare exactly, and QueryEvents never returns an event at
// or before the watermark it was given.
//
// # SQLite Configuration
//
// Two drivers are registered and selected by name:
//
//   - "sqlite": modernc.org/sqlite, pure Go, the default
//   - "sqlite3": github.com/mattn/go-sqlite3, requires cgo
//
// Both run with:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA busy_timeout=5000;
//
// # Error Handling
//
//   - ErrNotFound: requested event does not exist
//   - ErrDuplicateEvent: an event with the same ID was already saved
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewMockStore() for unit tests:
//
//	s := store.NewMockStore()
//	s.SetQueryError(errors.New("db down"))
//
// Use NewSQLiteStore(":memory:") for integration tests with real SQLite.
package store
