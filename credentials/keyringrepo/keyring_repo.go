// Package keyringrepo stores device credentials in the operating system keyring.
package keyringrepo

import (
	"encoding/json"

	"github.com/jrsteele09/mihome-cloud/credentials"
	"github.com/pkg/errors"
	"github.com/zalando/go-keyring"
)

const (
	DefaultService = "mihome-cloud"
	DefaultAccount = "device-credentials"
)

var _ credentials.Repo = (*KeyringRepo)(nil)

type KeyringRepo struct {
	service string
	account string
}

// New returns a repo storing a single JSON secret under service/account.
func New(service, account string) *KeyringRepo {
	if service == "" {
		service = DefaultService
	}
	if account == "" {
		account = DefaultAccount
	}
	return &KeyringRepo{service: service, account: account}
}

func (r *KeyringRepo) Load() (*credentials.DeviceCredentials, error) {
	s, err := keyring.Get(r.service, r.account)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, credentials.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[Load] keyring.Get")
	}

	var creds credentials.DeviceCredentials
	if err := json.Unmarshal([]byte(s), &creds); err != nil {
		return nil, errors.Wrap(err, "[Load] parse keyring secret")
	}
	if err := creds.Validate(); err != nil {
		return nil, credentials.ErrNotFound
	}
	return &creds, nil
}

func (r *KeyringRepo) Save(creds *credentials.DeviceCredentials) error {
	if err := creds.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(creds)
	if err != nil {
		return errors.Wrap(err, "[Save] marshal")
	}
	if err := keyring.Set(r.service, r.account, string(data)); err != nil {
		return errors.Wrap(err, "[Save] keyring.Set")
	}
	return nil
}

func (r *KeyringRepo) Delete() error {
	err := keyring.Delete(r.service, r.account)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return errors.Wrap(err, "[Delete] keyring.Delete")
	}
	return nil
}
