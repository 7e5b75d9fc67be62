package config

import (
	"strings"

	"github.com/jrsteele09/mihome-cloud/credentials/filerepo"
)

const (
	credentialsStoreVar = "MIHOME_CREDENTIALS_STORE"
	configFileVar       = "MIHOME_CONFIG_FILE"
)

type StoreKind string

const (
	FileStore    StoreKind = "file"
	KeyringStore StoreKind = "keyring"
)

type StoreConfig interface {
	GetCredentialsStore() StoreKind
	GetConfigFile() string
}

type Store struct{}

var _ StoreConfig = Store{}

func (Store) GetCredentialsStore() StoreKind {
	if StoreKind(strings.ToLower(GetEnv(credentialsStoreVar, string(FileStore)))) == KeyringStore {
		return KeyringStore
	}
	return FileStore
}

// GetConfigFile returns the credentials file path, ~/.xiaomi_config.json by default.
func (Store) GetConfigFile() string {
	if p := GetEnv(configFileVar, ""); p != "" {
		return p
	}
	p, err := filerepo.DefaultPath()
	if err != nil {
		return filerepo.DefaultFileName
	}
	return p
}
