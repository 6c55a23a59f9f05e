// Package statefile seeds a writable store from a JSON document on disk and
// keeps it in step with edits to that file.
package statefile

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/teranos/statesync/errors"
	"github.com/teranos/statesync/state"
)

// Load reads a JSON object from path and returns it as a state tree.
// The document must be a mapping that passes state validation.
func Load(path string) (state.Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read state file %s", path)
	}
	return Decode(data)
}

// Decode parses a JSON document into a state tree
func Decode(data []byte) (state.Map, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.WithHint(errors.New("state file is empty"), "use {} for an empty state")
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "failed to parse state file")
	}
	if err := state.Validate(doc); err != nil {
		return nil, err
	}

	m, _ := doc.(map[string]any)
	return m, nil
}

// Save writes m as indented JSON, replacing path atomically
func Save(path string, m state.Map) error {
	if err := state.Validate(m); err != nil {
		return err
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal state")
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return errors.Wrapf(err, "failed to create temp file for %s", path)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "failed to write %s", tmp.Name())
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %s", tmp.Name())
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(err, "failed to replace %s", path)
	}
	return nil
}
