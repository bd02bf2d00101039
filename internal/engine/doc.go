// Package engine resolves the Flutter engine build that matches a
// (version, target triple, profile) key and keeps engine builds in a
// version-addressed on-disk store.
//
// Store entries are published with a write-then-commit protocol: files are
// staged, moved into the entry with checksum verification, and a metadata
// file is written last. Only entries whose metadata and files agree are
// treated as present, so concurrent cargo-flutter processes never read a
// half-written engine.
package engine
