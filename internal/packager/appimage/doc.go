// Package appimage assembles an AppDir from a model and turns it into an
// AppImage with appimagetool.
package appimage
