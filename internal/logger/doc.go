// Package logger provides a small wrapper around zap to offer:
//   - a global sugared logger writing colored console lines to stderr,
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - level configuration and parsing utilities,
//   - convenience functions (Infof, WarnKV, etc.).
//
// Pipeline stages accept a context and extract the logger from it, so every
// line carries the name of the stage that produced it.
package logger
