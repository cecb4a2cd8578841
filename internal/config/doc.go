// Package config loads and validates the jema-terminal daemon settings from
// YAML.
//
// Load overlays the file on top of Default, so a file only needs the keys it
// changes. Validate rejects settings the controller cannot run with and fills
// in derived values such as a generated MQTT client id.
package config
