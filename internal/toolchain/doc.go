// Package toolchain runs the external programs the pipeline depends on
// (cargo, flutter, the Android SDK tools, appimagetool).
//
// Every invocation goes through the Runner interface so services can be
// tested with a fake, and every invocation is bounded by a timeout.
package toolchain
