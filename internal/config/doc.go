// Package config provides configuration management for the API Gateway.
//
// Configuration is a single YAML document in the Gateway resource shape
// (apiVersion, kind, metadata, spec). Environment variables are
// substituted with ${VAR} and ${VAR:-default} before parsing, and "$$"
// yields a literal dollar sign.
//
// # Loading
//
//	cfg, err := config.LoadConfig("gateway.yaml")
//	if err != nil {
//	    return err
//	}
//	if err := config.ValidateConfig(cfg); err != nil {
//	    return err
//	}
//
// LoadConfig applies defaults, so every optional field has a usable
// value after loading.
//
// # Hot reload
//
// Watcher observes the file's directory with fsnotify, debounces bursts
// of events and delivers only configurations that load and validate.
package config
