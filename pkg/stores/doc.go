// Package stores provides the pass history persistence layer. It
// includes a SQLite-backed implementation with WAL mode, embedded
// migrations, and CRUD operations for passes, stage results, and the
// append-only event log.
package stores
