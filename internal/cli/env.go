package cli

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// EnvFileVariable names a .env file that takes precedence over --env.
const EnvFileVariable = "LINKWIRE_ENV_FILE"

// EnvLoader loads a .env file chosen by --env or LINKWIRE_ENV_FILE.
// Variables already set in the process environment are never overwritten.
type EnvLoader struct {
	path        *string
	defaultPath string
}

// AddEnvFlag registers --env on fs.
func AddEnvFlag(fs *flag.FlagSet, defaultPath, usage string) *EnvLoader {
	if defaultPath == "" {
		defaultPath = ".env"
	}
	if usage == "" {
		usage = "Path to the .env file"
	}
	return &EnvLoader{
		path:        fs.String("env", defaultPath, usage),
		defaultPath: defaultPath,
	}
}

// Load reads the selected file and returns its path, or "" when the default
// file is simply absent. A missing file that was asked for explicitly is an
// error.
func (l *EnvLoader) Load() (string, error) {
	if l == nil {
		return "", fmt.Errorf("env loader is nil")
	}

	path, explicit := l.resolve()
	err := godotenv.Load(path)
	switch {
	case err == nil:
		return path, nil
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		return "", nil
	default:
		return "", fmt.Errorf("load env file %s: %w", path, err)
	}
}

func (l *EnvLoader) resolve() (string, bool) {
	if custom := strings.TrimSpace(os.Getenv(EnvFileVariable)); custom != "" {
		return custom, true
	}
	requested := ""
	if l.path != nil {
		requested = strings.TrimSpace(*l.path)
	}
	if requested == "" || requested == l.defaultPath {
		return l.defaultPath, false
	}
	return requested, true
}
