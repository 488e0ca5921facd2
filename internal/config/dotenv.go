package config

import (
	"bufio"
	"errors"
	"os"
	"strings"
)

// LoadDotEnv reads .env-like files into the process environment. Files are
// applied in order and missing files are skipped; variables already present in
// the environment always win over file values.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		trimmed := strings.TrimSpace(path)
		if trimmed == "" {
			continue
		}

		entries, err := readDotEnvFile(trimmed)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		for key, value := range entries {
			if _, exists := os.LookupEnv(key); exists {
				continue
			}
			_ = os.Setenv(key, value)
		}
	}
	return nil
}

func readDotEnvFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	entries := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))

		key, rawValue, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		entries[key] = parseDotEnvValue(rawValue)
	}
	return entries, scanner.Err()
}

func parseDotEnvValue(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	if quote := trimmed[0]; quote == '"' || quote == '\'' {
		if len(trimmed) >= 2 && trimmed[len(trimmed)-1] == quote {
			unquoted := trimmed[1 : len(trimmed)-1]
			if quote == '"' {
				return strings.NewReplacer(
					`\\`, `\`,
					`\n`, "\n",
					`\r`, "\r",
					`\t`, "\t",
					`\"`, `"`,
				).Replace(unquoted)
			}
			return unquoted
		}
	}

	// Unquoted values may carry trailing inline comments: VALUE # comment
	if index := strings.Index(trimmed, " #"); index >= 0 {
		return strings.TrimSpace(trimmed[:index])
	}
	return trimmed
}
