package main

import (
	"context"
	"fmt"

	gconfig "github.com/goliatone/go-config/config"
	"github.com/goliatone/go-logger/glog"
	shopagent "github.com/goliatone/go-shopagent"
	"github.com/joho/godotenv"
)

// loadConfig reads .env when present, then the config files and
// environment over the defaults.
func loadConfig(ctx context.Context, lgr *glog.BaseLogger) (*shopagent.Config, error) {
	if err := godotenv.Load(); err != nil {
		lgr.GetLogger("config").Debug("no .env file loaded", "error", err)
	}

	cfg := gconfig.New(shopagent.DefaultConfig()).
		WithLogger(lgr.GetLogger("config"))

	if err := cfg.Load(ctx); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg.Raw(), nil
}

func (f *globalFlags) baseURL(cfg *shopagent.Config) string {
	if f.server != "" {
		return f.server
	}
	return cfg.Server.BaseURL
}

func (f *globalFlags) accessToken(cfg *shopagent.Config) string {
	if f.token != "" {
		return f.token
	}
	return cfg.Server.AccessToken
}
