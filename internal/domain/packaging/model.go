package packaging

import (
	"path/filepath"
	"slices"
)

// Entry is a single file or directory that ends up inside a package.
type Entry struct {
	// Path is the location of the entry on the build machine.
	Path string
	// Triple is the target triple the entry was built for. Empty means
	// "same as the build context".
	Triple string
}

// Name returns the base filename of the entry.
func (e Entry) Name() string {
	return filepath.Base(e.Path)
}

// IsZero reports whether the entry has no path.
func (e Entry) IsZero() bool {
	return e.Path == ""
}

// Model is the normalized description of an installable package.
// A Model is immutable: accessors return copies.
type Model struct {
	name   string
	bin    Entry
	libs   []Entry
	assets []Entry
}

// Name returns the package name.
func (m *Model) Name() string {
	return m.name
}

// Bin returns the primary executable.
func (m *Model) Bin() Entry {
	return m.bin
}

// Libs returns native libraries in bundle order.
func (m *Model) Libs() []Entry {
	return slices.Clone(m.libs)
}

// Assets returns asset directories in insertion order.
func (m *Model) Assets() []Entry {
	return slices.Clone(m.assets)
}

// LibPaths returns the paths of all native libraries in bundle order.
func (m *Model) LibPaths() []string {
	paths := make([]string, 0, len(m.libs))
	for _, lib := range m.libs {
		paths = append(paths, lib.Path)
	}

	return paths
}

// AssetRoot returns the first asset entry, which formats that need a single
// assets root use.
func (m *Model) AssetRoot() (Entry, bool) {
	if len(m.assets) == 0 {
		return Entry{}, false
	}

	return m.assets[0], true
}

// Builder accumulates package contents. It performs no validation:
// each packager checks the minimum it needs.
type Builder struct {
	name   string
	bin    Entry
	libs   []Entry
	assets []Entry
}

// NewBuilder creates a builder for the named package.
func NewBuilder(name string) *Builder {
	return &Builder{name: name}
}

// AddBin sets the primary executable. The last call wins.
func (b *Builder) AddBin(path string) *Builder {
	b.bin = Entry{Path: path}

	return b
}

// AddLib appends a native library built for the context triple.
func (b *Builder) AddLib(path string) *Builder {
	return b.AddLibFor(path, "")
}

// AddLibFor appends a native library built for a specific target triple.
func (b *Builder) AddLibFor(path, triple string) *Builder {
	b.libs = append(b.libs, Entry{Path: path, Triple: triple})

	return b
}

// AddAsset appends an asset directory.
func (b *Builder) AddAsset(path string) *Builder {
	b.assets = append(b.assets, Entry{Path: path})

	return b
}

// Build returns an immutable snapshot of the accumulated contents.
// The builder stays usable afterwards.
func (b *Builder) Build() *Model {
	return &Model{
		name:   b.name,
		bin:    b.bin,
		libs:   slices.Clone(b.libs),
		assets: slices.Clone(b.assets),
	}
}
