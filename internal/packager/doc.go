// Package packager selects the format-specific packager for a requested
// format and records a release manifest next to every artifact.
package packager
