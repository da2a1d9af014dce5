// Package config defines the settings of the device updater and provides
// helpers to load, validate and save them in YAML format.
//
// Every option is enumerated in Config together with its default; Validate
// resolves the defaults once so the engine never consults a dynamic mapping.
package config
