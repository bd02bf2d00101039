package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/joho/godotenv"
)

// DotenvFilename is the optional per-project environment file.
const DotenvFilename = ".env"

// Environment is an explicit set of environment variables handed to the
// pipeline instead of reading and mutating the process environment.
type Environment map[string]string

// LoadEnvironment merges the project's .env file under the process
// environment. Variables already set in the process win.
func LoadEnvironment(projectDir string) (Environment, error) {
	env := make(Environment)

	path := filepath.Join(projectDir, DotenvFilename)

	values, err := godotenv.Read(path)

	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", path, err)
	default:
		maps.Copy(env, values)
	}

	for _, pair := range os.Environ() {
		if key, value, ok := strings.Cut(pair, "="); ok {
			env[key] = value
		}
	}

	return env, nil
}

// Get returns the value of key or an empty string.
func (e Environment) Get(key string) string {
	return e[key]
}

// With returns a copy of the environment with the given pairs set.
func (e Environment) With(kvs ...string) Environment {
	out := maps.Clone(e)
	if out == nil {
		out = make(Environment, len(kvs)/2)
	}

	for i := 0; i+1 < len(kvs); i += 2 {
		out[kvs[i]] = kvs[i+1]
	}

	return out
}

// Pairs returns KEY=VALUE strings sorted by key, suitable for exec.Cmd.Env.
func (e Environment) Pairs() []string {
	keys := slices.Sorted(maps.Keys(e))

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+e[key])
	}

	return pairs
}
