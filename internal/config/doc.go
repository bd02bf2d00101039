// Package config loads everything cargo-flutter is configured with:
//
//   - user settings (YAML) such as the engine cache directory, the engine
//     download URL template and the per-stage timeout,
//   - the project manifest (Cargo.toml) with the [package.metadata.flutter],
//     [package.metadata.android] and [package.metadata.appimage] tables,
//   - the environment, merged from the project's .env file and the process.
package config
