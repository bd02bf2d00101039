package appimage

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/oshokin/cargo-flutter/internal/config"
	"github.com/oshokin/cargo-flutter/internal/domain/packaging"
)

var (
	// valueEscaper applies the escape sequences of string values.
	valueEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`, "\t", `\t`, "\r", `\r`)
	// listItemEscaper additionally escapes the list separator.
	listItemEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`, "\t", `\t`, "\r", `\r`, ";", `\;`)
)

// desktopEntry holds the fields written to <name>.desktop.
type desktopEntry struct {
	Name       string
	Exec       string
	Icon       string
	Type       string
	Categories []string
	Comment    string
	Terminal   bool
}

// newDesktopEntry fills the entry from metadata, defaulting Name to the
// package name and Exec to the binary name.
func newDesktopEntry(meta *config.AppImageMetadata, name, bin string) *desktopEntry {
	entry := &desktopEntry{
		Name:       meta.Name,
		Exec:       meta.Exec,
		Icon:       name,
		Type:       meta.Type,
		Categories: meta.Categories,
		Comment:    meta.Comment,
		Terminal:   meta.Terminal,
	}

	if entry.Name == "" {
		entry.Name = name
	}

	if entry.Exec == "" {
		entry.Exec = bin
	}

	return entry
}

// validate reports the first required field that is still empty.
func (d *desktopEntry) validate() error {
	required := []struct {
		key   string
		empty bool
	}{
		{"Name", d.Name == ""},
		{"Exec", d.Exec == ""},
		{"Icon", d.Icon == ""},
		{"Type", d.Type == ""},
		{"Categories", len(d.Categories) == 0},
	}

	for _, field := range required {
		if field.empty {
			return packaging.ConfigErrorf("desktop entry field %s is required", field.key)
		}
	}

	values := []struct {
		key   string
		value string
	}{
		{"Name", d.Name},
		{"Exec", d.Exec},
		{"Icon", d.Icon},
		{"Type", d.Type},
		{"Categories", strings.Join(d.Categories, "")},
		{"Comment", d.Comment},
	}

	for _, field := range values {
		if strings.ContainsFunc(field.value, unicode.IsControl) {
			return packaging.ConfigErrorf("desktop entry field %s contains control characters", field.key)
		}
	}

	return nil
}

// String renders the entry in the freedesktop format with values escaped.
func (d *desktopEntry) String() string {
	var b strings.Builder

	categories := make([]string, 0, len(d.Categories))
	for _, category := range d.Categories {
		categories = append(categories, listItemEscaper.Replace(category))
	}

	b.WriteString("[Desktop Entry]\n")
	fmt.Fprintf(&b, "Name=%s\n", valueEscaper.Replace(d.Name))
	fmt.Fprintf(&b, "Exec=%s\n", valueEscaper.Replace(d.Exec))
	fmt.Fprintf(&b, "Icon=%s\n", valueEscaper.Replace(d.Icon))
	fmt.Fprintf(&b, "Type=%s\n", valueEscaper.Replace(d.Type))
	fmt.Fprintf(&b, "Categories=%s;\n", strings.Join(categories, ";"))

	if d.Comment != "" {
		fmt.Fprintf(&b, "Comment=%s\n", valueEscaper.Replace(d.Comment))
	}

	fmt.Fprintf(&b, "Terminal=%t\n", d.Terminal)

	return b.String()
}
