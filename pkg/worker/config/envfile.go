package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ApplyEnvFile exports every variable from a dotenv-style file that is
// not already set in the process environment, so the real environment
// always wins over the file. A missing file is not an error; workers run
// without one in most deployments.
func ApplyEnvFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read env file %q: %w", path, err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		key, val, ok := parseEnvLine(line)
		if !ok {
			continue
		}
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, val); err != nil {
			return fmt.Errorf("set env %q from %q: %w", key, path, err)
		}
	}
	return nil
}

// parseEnvLine splits one line into a KEY=VALUE pair. Blank lines,
// comments, and lines without a key yield ok=false. Shell-style "export"
// prefixes and single or double quotes around the value are accepted.
func parseEnvLine(line string) (key, val string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimPrefix(line, "export ")

	key, val, found := strings.Cut(line, "=")
	key = strings.TrimSpace(key)
	if !found || key == "" {
		return "", "", false
	}
	return key, unquoteEnvValue(strings.TrimSpace(val)), true
}

func unquoteEnvValue(val string) string {
	if len(val) < 2 {
		return val
	}
	first, last := val[0], val[len(val)-1]
	if first == last && (first == '"' || first == '\'') {
		return val[1 : len(val)-1]
	}
	return val
}
