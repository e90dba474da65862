package codeobject

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Save writes the full materialized byte range to a file in dir, named
// after the URI with filesystem-reserved characters replaced. The object
// must be open.
func (co *CodeObject) Save(dir string) error {
	if !co.opened {
		return errors.New("code object is not open")
	}

	name := strings.Map(func(r rune) rune {
		if strings.ContainsRune(":/#?&=", r) {
			return '_'
		}
		return r
	}, co.uri)

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, co.image, 0o644); err != nil {
		return errors.Wrapf(err, "could not save code object to %q", path)
	}
	return nil
}
