package am

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/teranos/statesync/errors"
)

// backupGenerations is how many previous versions Save keeps (.back1 newest)
const backupGenerations = 3

func backupName(path string, generation int) string {
	return fmt.Sprintf("%s.back%d", path, generation)
}

// createBackup shifts .backN to .backN+1, dropping the oldest, then copies
// the current file to .back1. A missing file needs no backup.
func createBackup(configPath string) error {
	content, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}

	if err := os.Remove(backupName(configPath, backupGenerations)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to drop oldest backup")
	}
	for gen := backupGenerations - 1; gen >= 1; gen-- {
		from := backupName(configPath, gen)
		if _, err := os.Stat(from); err != nil {
			continue
		}
		if err := os.Rename(from, backupName(configPath, gen+1)); err != nil {
			return errors.Wrapf(err, "failed to rotate %s", filepath.Base(from))
		}
	}

	if err := os.WriteFile(backupName(configPath, 1), content, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to write .back1")
	}
	return nil
}

// Save writes cfg as TOML to path, keeping up to three backups of the previous file
func Save(path string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "refusing to save invalid config")
	}

	if err := os.MkdirAll(filepath.Dir(path), DefaultDirPermissions); err != nil {
		return errors.Wrapf(err, "failed to create config directory for %s", path)
	}

	if err := createBackup(path); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	if err := os.WriteFile(path, data, DefaultFilePermissions); err != nil {
		return errors.Wrapf(err, "failed to write config %s", path)
	}

	return nil
}

// WriteDefault writes the default configuration to path. An existing file
// is left alone unless force is set, in which case it is backed up first.
func WriteDefault(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return errors.Newf("config %s already exists", path)
	}
	return Save(path, DefaultConfig())
}

// DefaultUserConfigPath returns ~/.statesync/am.toml
func DefaultUserConfigPath() (string, error) {
	dir := UserConfigDir()
	if dir == "" {
		return "", errors.New("could not determine home directory")
	}
	return filepath.Join(dir, "am.toml"), nil
}
