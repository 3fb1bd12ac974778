// Package config loads the route-share server configuration from a YAML file.
//
// Values of the form ${VAR} are expanded from the environment before parsing.
// Missing optional fields take the defaults in defaults.go, and Validate
// rejects values the server cannot run with. Command-line flags are applied
// on top by cmd/server.
package config
