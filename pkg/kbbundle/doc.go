// Package kbbundle packages a project's store file into a single portable
// archive (the ".ctx-kb" bundle) and unpacks one back onto disk.
//
// It does no interpretation of the store's contents: the bundle is a
// gzip+tar wrapper around the SQLite file produced by internal/store, so
// it can be copied, shared, or checked into release artifacts without a
// running database connection.
package kbbundle
