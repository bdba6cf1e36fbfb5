package config

import (
	"bufio"
	"errors"
	"fmt"
	"maps"
	"os"
	"strconv"
	"strings"
	"time"
)

// source answers lookups from the layered environment: explicit map, process env, dotenv.
type source struct {
	explicit map[string]string
	system   bool
	dotenv   map[string]string
}

func openSource(options loaderOptions) (source, error) {
	dotenv, err := readDotEnv(options.envFile)
	if err != nil {
		return source{}, err
	}
	return source{explicit: options.envMap, system: options.useSystemEnv, dotenv: dotenv}, nil
}

func (s source) lookup(key string) (string, bool) {
	if v, ok := s.explicit[key]; ok {
		return v, true
	}
	if s.system {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
	}
	v, ok := s.dotenv[key]
	return v, ok
}

func (s source) merged() map[string]string {
	values := maps.Clone(s.dotenv)
	if values == nil {
		values = make(map[string]string)
	}
	if s.system {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if key = strings.TrimSpace(key); ok && key != "" {
				values[key] = value
			}
		}
	}
	maps.Copy(values, s.explicit)
	return values
}

// raw returns the value for key, treating an empty value as unset.
func (s source) raw(key string) (string, bool) {
	v, ok := s.lookup(key)
	return v, ok && v != ""
}

func (s source) str(key, fallback string) string {
	if v, ok := s.raw(key); ok {
		return v
	}
	return fallback
}

// Unparseable numbers and durations fall back to the default.

func (s source) duration(key string, fallback time.Duration) time.Duration {
	if v, ok := s.raw(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func (s source) integer(key string, fallback int) int {
	if v, ok := s.raw(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func (s source) decimal(key string, fallback float64) float64 {
	if v, ok := s.raw(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func (s source) boolean(key string, fallback bool) bool {
	if v, ok := s.raw(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// list parses "a, b,c" into its non-empty items.
func (s source) list(key string) []string {
	out := []string{}
	v, _ := s.lookup(key)
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// pairs parses "prod=a,stg=b" with lower-cased keys. Entries without both sides are dropped.
func (s source) pairs(key string) map[string]string {
	out := make(map[string]string)
	for _, item := range s.list(key) {
		name, value, ok := strings.Cut(item, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		if ok && name != "" && value != "" {
			out[name] = value
		}
	}
	return out
}

// readDotEnv parses KEY=value lines, tolerating comments, blank lines, an "export " prefix and
// quoted values. A missing file yields no values.
func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if key = strings.TrimSpace(key); !ok || key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), `"'`)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", path, err)
	}
	return values, nil
}
