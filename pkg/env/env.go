// Package env reads process environment values that are consulted before
// the typed config is loaded, such as the log format and the platform port.
package env

import (
	"os"
	"strings"
)

// Lookup returns the trimmed value of key and whether it was set to a
// non-blank value.
func Lookup(key string) (string, bool) {
	val, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	val = strings.TrimSpace(val)
	return val, val != ""
}

// Get returns the trimmed value of key or fallback when it is blank.
func Get(key, fallback string) string {
	if val, ok := Lookup(key); ok {
		return val
	}
	return fallback
}
