package appimage

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/oshokin/cargo-flutter/internal/domain/packaging"
)

const (
	dirMode  os.FileMode = 0o755
	fileMode os.FileMode = 0o644

	// snapshotFilename is the AOT snapshot library name.
	snapshotFilename = "app.so"
	placeholderSize  = 256
)

// appDir is the on-disk layout of one AppDir.
type appDir struct {
	root string
	name string
}

func (a *appDir) binDir() string   { return filepath.Join(a.root, "usr", "bin") }
func (a *appDir) libDir() string   { return filepath.Join(a.root, "usr", "lib") }
func (a *appDir) shareDir() string { return filepath.Join(a.root, "usr", "share", a.name) }

// populate copies the model into the AppDir, replacing a previous one.
func (a *appDir) populate(model *packaging.Model) error {
	if err := os.RemoveAll(a.root); err != nil {
		return fmt.Errorf("clean %s: %w", a.root, err)
	}

	bin := model.Bin()
	if err := copyFile(bin.Path, filepath.Join(a.binDir(), bin.Name()), dirMode); err != nil {
		return fmt.Errorf("copy binary: %w", err)
	}

	for _, lib := range model.Libs() {
		if err := copyFile(lib.Path, filepath.Join(a.libDir(), lib.Name()), dirMode); err != nil {
			return fmt.Errorf("copy library: %w", err)
		}
	}

	for _, asset := range model.Assets() {
		if err := os.MkdirAll(a.shareDir(), dirMode); err != nil {
			return err
		}

		if err := os.CopyFS(filepath.Join(a.shareDir(), asset.Name()), os.DirFS(asset.Path)); err != nil {
			return fmt.Errorf("copy assets %s: %w", asset.Path, err)
		}
	}

	return nil
}

// writeAppRun writes the launcher that points the engine at the bundled files.
func (a *appDir) writeAppRun(model *packaging.Model) error {
	var b strings.Builder

	b.WriteString("#!/bin/sh\n")
	b.WriteString(`HERE="$(dirname "$(readlink -f "$0")")"` + "\n")
	b.WriteString(`export LD_LIBRARY_PATH="$HERE/usr/lib${LD_LIBRARY_PATH:+:$LD_LIBRARY_PATH}"` + "\n")

	if root, ok := model.AssetRoot(); ok {
		fmt.Fprintf(&b, "export FLUTTER_ASSET_DIR=\"$HERE/usr/share/%s/%s\"\n", a.name, root.Name())
	}

	for _, lib := range model.Libs() {
		if lib.Name() == snapshotFilename {
			fmt.Fprintf(&b, "export FLUTTER_AOT_SNAPSHOT=\"$HERE/usr/lib/%s\"\n", snapshotFilename)
			break
		}
	}

	fmt.Fprintf(&b, "exec \"$HERE/usr/bin/%s\" \"$@\"\n", model.Bin().Name())

	return os.WriteFile(filepath.Join(a.root, "AppRun"), []byte(b.String()), dirMode) //nolint:gosec // Must be executable.
}

// writeDesktopEntry writes <name>.desktop at the AppDir root.
func (a *appDir) writeDesktopEntry(entry *desktopEntry) error {
	path := filepath.Join(a.root, a.name+".desktop")

	return os.WriteFile(path, []byte(entry.String()), fileMode) //nolint:gosec // Packaged file, not a secret.
}

// writeIcon installs the configured PNG, or a generated placeholder, as
// <name>.png and .DirIcon.
func (a *appDir) writeIcon(configured string) error {
	iconPath := filepath.Join(a.root, a.name+".png")

	if configured != "" {
		if _, err := os.Stat(configured); err != nil {
			return packaging.ConfigErrorf("icon %s: %v", configured, err)
		}

		if err := copyFile(configured, iconPath, fileMode); err != nil {
			return fmt.Errorf("copy icon: %w", err)
		}
	} else if err := writePlaceholderIcon(iconPath); err != nil {
		return err
	}

	return copyFile(iconPath, filepath.Join(a.root, ".DirIcon"), fileMode)
}

// writePlaceholderIcon writes a plain square PNG.
func writePlaceholderIcon(path string) error {
	img := image.NewRGBA(image.Rect(0, 0, placeholderSize, placeholderSize))
	fill := color.RGBA{R: 0x02, G: 0x56, B: 0x9b, A: 0xff}

	for y := range placeholderSize {
		for x := range placeholderSize {
			img.Set(x, y, fill)
		}
	}

	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("create icon: %w", err)
	}

	werr := png.Encode(f, img)
	cerr := f.Close()

	if err = errors.Join(werr, cerr); err != nil {
		return fmt.Errorf("write icon: %w", err)
	}

	return nil
}

func copyFile(src, dst string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), dirMode); err != nil {
		return err
	}

	in, err := os.Open(filepath.Clean(src))
	if err != nil {
		return err
	}

	defer func() {
		_ = in.Close()
	}()

	out, err := os.OpenFile(filepath.Clean(dst), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}

	_, werr := io.Copy(out, in)
	cerr := out.Close()

	return errors.Join(werr, cerr)
}
