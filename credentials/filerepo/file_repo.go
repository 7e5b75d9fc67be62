// Package filerepo stores device credentials as a small JSON file in the user's home
// directory: {"ip": "...", "token": "..."}.
package filerepo

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/jrsteele09/mihome-cloud/credentials"
	"github.com/pkg/errors"
)

// DefaultFileName is created in the user's home directory.
const DefaultFileName = ".xiaomi_config.json"

var _ credentials.Repo = (*FileRepo)(nil)

type FileRepo struct {
	path string
}

// New returns a repo backed by path.
func New(path string) *FileRepo {
	return &FileRepo{path: path}
}

// DefaultPath returns ~/.xiaomi_config.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "os.UserHomeDir")
	}
	return filepath.Join(home, DefaultFileName), nil
}

// Path returns the file the repo reads and writes.
func (r *FileRepo) Path() string {
	return r.path
}

func (r *FileRepo) Load() (*credentials.DeviceCredentials, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, credentials.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "[Load] read %s", r.path)
	}

	var creds credentials.DeviceCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, errors.Wrapf(err, "[Load] parse %s", r.path)
	}
	if err := creds.Validate(); err != nil {
		return nil, credentials.ErrNotFound
	}
	return &creds, nil
}

func (r *FileRepo) Save(creds *credentials.DeviceCredentials) error {
	if err := creds.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return errors.Wrap(err, "[Save] marshal")
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o700); err != nil {
		return errors.Wrapf(err, "[Save] mkdir %s", filepath.Dir(r.path))
	}

	// Write to a temp file first so a crash never leaves a truncated token behind.
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrapf(err, "[Save] write %s", tmp)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrapf(err, "[Save] rename %s", tmp)
	}
	return nil
}

func (r *FileRepo) Delete() error {
	if err := os.Remove(r.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrapf(err, "[Delete] remove %s", r.path)
	}
	return nil
}
