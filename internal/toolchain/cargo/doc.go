// Package cargo plans and runs the native cargo build: it reads the cargo
// arguments, works out the target triple, profile and build directory, and
// invokes cargo with the engine path on the child environment.
package cargo
