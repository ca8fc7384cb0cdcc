// Package postgres provides the PostgreSQL-backed implementation of the
// task store. Claim atomicity rests on a single conditional UPDATE with a
// FOR UPDATE SKIP LOCKED subselect, which keeps concurrent dispatchers
// from ever winning the same row.
package postgres
