// Package packaging holds the format-agnostic description of what ships:
// the package model and its builder, the build profile, the signing decision,
// the packaging context handed to format packagers and the error kinds shared
// by every stage of the pipeline.
package packaging
