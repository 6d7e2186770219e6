// Package config provides centralized configuration management for the
// ticketchaind runtime: the API listen address, intent store and queue
// backends, wallet gateway parameters and payment verification policy.
// Values come from a single JSON file with sensible defaults applied for
// anything left unset.
package config
