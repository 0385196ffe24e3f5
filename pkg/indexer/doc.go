// Package indexer is the public contract external indexer tools (CLI
// plugins, editor integrations, source-specific parsers) implement against
// to push entities into a project's store.
//
// The engine's own internal/store package already implements lexical,
// vector, and metadata persistence directly; this package exists because
// internal/ cannot be imported outside this module. Anything that parses
// source and wants to register entities does so through the Indexer
// interface here, never by reaching into internal/store.
//
// # Architecture
//
//	┌────────────────────┐
//	│ external indexer    │  (source parsing, chunking: out of core scope)
//	└──────────┬───────────┘
//	           │ implements/calls
//	┌──────────▼───────────┐
//	│  indexer.Indexer      │  ← this package
//	└──────────┬───────────┘
//	           │
//	┌──────────▼───────────┐
//	│     store.DB          │  (internal)
//	└───────────────────────┘
package indexer
