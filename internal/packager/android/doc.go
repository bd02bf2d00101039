// Package android packages a model into an APK with the Android SDK build
// tools. Native libraries are grouped per ABI, derived from the triple each
// library was built for.
package android
