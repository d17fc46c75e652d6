// Package config loads bot settings from a JSON file and
// PRBOT_-prefixed environment variables.
package config
