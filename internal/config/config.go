package config

type Config interface {
	EnvConfig
	CloudConfig
	StoreConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
	GetCountry() string
}

type mainConfig struct {
	EnvVars
	Cloud
	Store
}

func New() Config {
	return mainConfig{}
}
