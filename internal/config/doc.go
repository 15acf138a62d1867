// Package config provides configuration loading and validation for the chat relay service.
// It handles YAML-based configuration with per-section validation and ships defaults
// that let the binary run without any config file at all.
package config
