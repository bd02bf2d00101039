// Package flutter drives the flutter tool: asset bundles, AOT snapshots and
// debugger attachment, plus a probe for the Dart VM service a running
// application announces.
package flutter
