// Package config loads and validates the YAML configuration for
// tether binaries. Values support ${VAR} environment expansion.
package config
