package main

import (
	"os"
	"strconv"
	"strings"
)

// envPrefix namespaces every environment variable the binary reads.
const envPrefix = "GATEWAY_"

// envKey returns the environment variable name for a setting.
func envKey(name string) string {
	return envPrefix + strings.ToUpper(name)
}

// lookupEnv returns the trimmed value of a setting and whether it is set
// to something other than blanks.
func lookupEnv(name string) (string, bool) {
	value := strings.TrimSpace(os.Getenv(envKey(name)))
	return value, value != ""
}

// envString returns the setting or fallback when it is unset.
func envString(name, fallback string) string {
	if value, ok := lookupEnv(name); ok {
		return value
	}
	return fallback
}

// envBool returns the setting as a boolean. Unparseable values fall back.
func envBool(name string, fallback bool) bool {
	value, ok := lookupEnv(name)
	if !ok {
		return fallback
	}
	switch strings.ToLower(value) {
	case "yes", "on":
		return true
	case "no", "off":
		return false
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return b
}
