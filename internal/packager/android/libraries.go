package android

import (
	"slices"
	"strings"

	"github.com/oshokin/cargo-flutter/internal/domain/packaging"
)

// BuildTarget identifies the libraries of one package for one ABI.
type BuildTarget struct {
	Name string
	ABI  ABI
}

// SharedLibrary is one native library copied into the package.
type SharedLibrary struct {
	ABI ABI
	// Path is the library on the build machine.
	Path string
	// Filename is the name inside lib/<abi>/.
	Filename string
}

// SharedLibraries groups libraries by build target, in bundle order.
type SharedLibraries map[BuildTarget][]SharedLibrary

// MapLibraries assigns every library of the model to the ABI of its own
// triple. The primary binary comes first as the native activity library.
// Every declared ABI must end up with at least one library, and no library
// may target an undeclared ABI.
func MapLibraries(model *packaging.Model, contextTriple string, declared []ABI) (SharedLibraries, error) {
	libs := make(SharedLibraries, len(declared))

	add := func(entry packaging.Entry, filename string) error {
		triple := entry.Triple
		if triple == "" {
			triple = contextTriple
		}

		abi, err := AbiForTriple(triple)
		if err != nil {
			return err
		}

		if !slices.Contains(declared, abi) {
			return packaging.ConfigErrorf("%s is built for %s, which is not a declared build target", entry.Name(), abi)
		}

		target := BuildTarget{Name: model.Name(), ABI: abi}
		libs[target] = append(libs[target], SharedLibrary{
			ABI:      abi,
			Path:     entry.Path,
			Filename: filename,
		})

		return nil
	}

	if bin := model.Bin(); !bin.IsZero() {
		if err := add(bin, mainLibraryFilename(model.Name(), bin)); err != nil {
			return nil, err
		}
	}

	for _, lib := range model.Libs() {
		if err := add(lib, lib.Name()); err != nil {
			return nil, err
		}
	}

	for _, abi := range declared {
		if len(libs[BuildTarget{Name: model.Name(), ABI: abi}]) == 0 {
			return nil, packaging.ConfigErrorf("build target %s has no libraries", abi)
		}
	}

	return libs, nil
}

// libName is the name NativeActivity loads, cargo style.
func libName(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}

// mainLibraryFilename is the file name NativeActivity looks for.
func mainLibraryFilename(name string, bin packaging.Entry) string {
	if filename := bin.Name(); strings.HasPrefix(filename, "lib") && strings.HasSuffix(filename, ".so") {
		return filename
	}

	return "lib" + libName(name) + ".so"
}
