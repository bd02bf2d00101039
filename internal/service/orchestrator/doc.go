// Package orchestrator drives one cargo flutter invocation: it resolves the
// engine, builds the native binary, builds the flutter bundle and AOT
// snapshot, and then packages or runs the application.
package orchestrator
