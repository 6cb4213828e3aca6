// Package config loads contentq settings from an optional YAML file and
// CONTENTQ_-prefixed environment variables, then validates them.
package config
