package repofake

import (
	"sync"

	"github.com/jrsteele09/mihome-cloud/credentials"
)

var _ credentials.Repo = (*FakeCredentialsRepo)(nil)

type FakeCredentialsRepo struct {
	creds *credentials.DeviceCredentials
	lock  sync.RWMutex
}

func NewFakeCredentialsRepo() *FakeCredentialsRepo {
	return &FakeCredentialsRepo{}
}

func (r *FakeCredentialsRepo) Load() (*credentials.DeviceCredentials, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	if r.creds == nil {
		return nil, credentials.ErrNotFound
	}
	c := *r.creds
	return &c, nil
}

func (r *FakeCredentialsRepo) Save(creds *credentials.DeviceCredentials) error {
	if err := creds.Validate(); err != nil {
		return err
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	c := *creds
	r.creds = &c
	return nil
}

func (r *FakeCredentialsRepo) Delete() error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.creds = nil
	return nil
}
