package config

import (
	"context"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/sethvargo/go-envconfig"
)

type Runtime struct {
	LogLevel string `env:"LOG_LEVEL, default=info"`
	Shell    string `env:"SHELL, default=sh"`
	SSH      string `env:"SSH, default=ssh"`
}

type Paths struct {
	ConfigDir string `env:"CONFIG_DIR, default=.deployer"`
	HistoryDB string `env:"HISTORY_DB, default=history.db"`
}

type Lock struct {
	Wait time.Duration `env:"WAIT, default=0s"`
}

type Config struct {
	Runtime Runtime `env:",prefix=DEPLOYER_"`
	Paths   Paths   `env:",prefix=DEPLOYER_"`
	Lock    Lock    `env:",prefix=DEPLOYER_LOCK_"`
}

// HistoryPath is the location of the history database inside the config dir.
func (c *Config) HistoryPath() (string, error) {
	return securejoin.SecureJoin(c.Paths.ConfigDir, c.Paths.HistoryDB)
}

func Load(ctx context.Context) (*Config, error) {
	return LoadWith(ctx, envconfig.OsLookuper())
}

func LoadWith(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: l,
	})
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
