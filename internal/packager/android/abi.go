package android

import (
	"slices"

	"github.com/oshokin/cargo-flutter/internal/domain/packaging"
)

// ABI is an Android application binary interface name.
type ABI string

// Supported ABIs.
const (
	ArmV7a ABI = "armeabi-v7a"
	Arm64  ABI = "arm64-v8a"
	X86    ABI = "x86"
	X86_64 ABI = "x86_64" //nolint:revive // Matches the Android ABI name.
)

// AbiForTriple maps a rust target triple to the Android ABI its libraries load under.
func AbiForTriple(triple string) (ABI, error) {
	switch triple {
	case "aarch64-linux-android":
		return Arm64, nil
	case "armv7-linux-androideabi", "thumbv7neon-linux-androideabi":
		return ArmV7a, nil
	case "i686-linux-android":
		return X86, nil
	case "x86_64-linux-android":
		return X86_64, nil
	default:
		return "", packaging.ConfigErrorf("target %q is not an android target", triple)
	}
}

// parseTarget accepts either a triple or an ABI name.
func parseTarget(target string) (ABI, error) {
	switch abi := ABI(target); abi {
	case ArmV7a, Arm64, X86, X86_64:
		return abi, nil
	}

	return AbiForTriple(target)
}

// declaredABIs returns the ABIs of the configured build targets in order,
// or the ABI of the context triple when none are configured.
func declaredABIs(buildTargets []string, contextTriple string) ([]ABI, error) {
	if len(buildTargets) == 0 {
		abi, err := AbiForTriple(contextTriple)
		if err != nil {
			return nil, err
		}

		return []ABI{abi}, nil
	}

	abis := make([]ABI, 0, len(buildTargets))

	for _, target := range buildTargets {
		abi, err := parseTarget(target)
		if err != nil {
			return nil, err
		}

		if !slices.Contains(abis, abi) {
			abis = append(abis, abi)
		}
	}

	return abis, nil
}
