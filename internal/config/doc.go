// Package config loads the sync daemon's YAML configuration.
//
// ${VAR} references are expanded from the environment before parsing, so
// secrets such as auth.token or database.password can stay out of the file.
package config
