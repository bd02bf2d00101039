package packaging

import "fmt"

// Profile is the native build profile.
type Profile int

const (
	// Debug builds are unoptimized and run from sources through JIT.
	Debug Profile = iota
	// Release builds are optimized and expect an AOT snapshot.
	Release
)

// String returns the cargo-style profile directory name.
func (p Profile) String() string {
	switch p {
	case Debug:
		return "debug"
	case Release:
		return "release"
	default:
		return fmt.Sprintf("profile(%d)", int(p))
	}
}

// ExpectsAot reports whether the profile needs an ahead-of-time snapshot.
func (p Profile) ExpectsAot() bool {
	return p == Release
}

// ShouldSign computes whether a package must be signed.
// Debug builds sign only on explicit request, release builds sign unless
// explicitly told not to.
func ShouldSign(profile Profile, sign, noSign bool) bool {
	if profile == Release {
		return !noSign
	}

	return sign
}
