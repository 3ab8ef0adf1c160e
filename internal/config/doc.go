// Package config loads and validates the service configuration from
// defaults, an optional config.yaml and TASKBID_* environment variables.
package config
