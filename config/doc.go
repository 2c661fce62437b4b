// Package config loads guardkit configuration from YAML files and
// environment variables.
//
// It uses Viper for file parsing and env overrides, plus godotenv so a
// local .env file can supply variables during development. The root
// Config carries named resilience policy sets, logging settings, and
// the distributed lock backend.
package config
