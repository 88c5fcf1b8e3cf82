package config

import (
	"os"
	"regexp"
)

var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv replaces ${VAR_NAME} references in raw YAML content with the
// corresponding environment variable. Unset variables keep their literal
// ${VAR_NAME} text so a later consumer can tell "unset" from "empty".
// Bare $ characters (regex patterns, passwords) are never touched.
func ExpandEnv(data []byte) []byte {
	return envRefPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envRefPattern.FindSubmatch(match)[1]
		if value, ok := os.LookupEnv(string(name)); ok {
			return []byte(value)
		}
		return match
	})
}
