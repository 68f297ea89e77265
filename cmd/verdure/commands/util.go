package commands

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/rustyguts/verdure/internal/config"
)

func newLogger(verbose bool) (*zap.SugaredLogger, error) {
	var zcfg zap.Config
	if verbose {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger.Sugar(), nil
}

func loadConfig() (config.Config, error) {
	if configPath == "" {
		return config.Load()
	}
	return config.Load(configPath)
}
