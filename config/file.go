package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/pkg/errors"
	"github.com/titanous/json5"
)

// readLayered decodes name and then its ".local" sibling, each layer merged
// over the one before. It returns the files that were read, or
// os.ErrNotExist when neither exists.
func readLayered[T any](name string) (T, []string, error) {
	var out T
	var read []string

	for _, path := range []string{name, localPath(name)} {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			continue
		case err != nil:
			return out, read, err
		case len(bytes.TrimSpace(data)) == 0:
			continue
		}

		var layer T
		if err := json5.Unmarshal(data, &layer); err != nil {
			return out, read, errors.Wrap(err, path)
		}
		if err := mergo.Merge(&out, layer, mergo.WithOverride); err != nil {
			return out, read, errors.Wrapf(err, "merge %s", path)
		}
		read = append(read, path)
	}

	if len(read) == 0 {
		return out, nil, os.ErrNotExist
	}
	return out, read, nil
}

// localPath maps config.json5 to config.local.json5.
func localPath(name string) string {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + ".local" + ext
}
