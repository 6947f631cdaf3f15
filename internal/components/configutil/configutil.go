package configutil

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

// LocalPath returns the override file that sits next to `name`,
// ex. `config.json5` -> `config.local.json5`.
func LocalPath(name string) string {
	dirname := filepath.Dir(name)
	basename := filepath.Base(name)
	ext := filepath.Ext(basename)
	prefixname := strings.TrimSuffix(basename, ext)
	return filepath.Join(dirname, fmt.Sprintf("%s.local%s", prefixname, ext))
}

// ReadConfig reads a json5 configuration file into `out`, fields already
// set on `out` act as defaults. `name` should come with a file extension.
// this function will merge the following files, where higher number is more prioritized.
// 1. <name>.<ext>
// 2. <name>.local.<ext>
//
// os.ErrNotExist is returned if neither file exists.
func ReadConfig[T any](name string, out *T) error {
	allNotFound := true

	defaultFile, err := os.ReadFile(name)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if err == nil {
		allNotFound = false
	}
	if len(defaultFile) > 0 {
		var base T
		err = json5.Unmarshal(defaultFile, &base)
		if err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		err = mergo.Merge(out, base, mergo.WithOverride)
		if err != nil {
			return err
		}
	}

	localFilepath := LocalPath(name)
	localFile, err := os.ReadFile(localFilepath)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if len(localFile) > 0 {
		var override T
		err = json5.Unmarshal(localFile, &override)
		if err != nil {
			return fmt.Errorf("parse %s: %w", localFilepath, err)
		}
		err = mergo.Merge(out, override, mergo.WithOverride)
		if err != nil {
			return err
		}
		slog.Info("merging config with local overrides", "local", localFilepath)
		allNotFound = false
	}

	if allNotFound {
		return os.ErrNotExist
	}
	return nil
}
