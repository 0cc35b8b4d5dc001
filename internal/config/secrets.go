package config

import (
	"fmt"
	"os"
	"strings"
)

// SecretFileError reports a *_FILE variable naming an unreadable file.
type SecretFileError struct {
	Var  string
	Path string
	Err  error
}

func (e *SecretFileError) Error() string {
	return fmt.Sprintf("read secret %s=%s: %v", e.Var, e.Path, e.Err)
}

func (e *SecretFileError) Unwrap() error {
	return e.Err
}

// ResolveSecret returns the first secret set under names, in order. For
// each name, NAME_FILE (a path whose trimmed contents are the secret) wins
// over NAME itself. An empty result with a nil error means none was set.
func ResolveSecret(names ...string) (string, error) {
	for _, name := range names {
		fileVar := name + "_FILE"
		if path := os.Getenv(fileVar); path != "" {
			content, err := os.ReadFile(path)
			if err != nil {
				return "", &SecretFileError{Var: fileVar, Path: path, Err: err}
			}
			return strings.TrimSpace(string(content)), nil
		}
		if v := os.Getenv(name); v != "" {
			return v, nil
		}
	}
	return "", nil
}
