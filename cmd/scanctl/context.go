package main

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/VinByte365/Project-Pamada-sub000/internal/app"
	"github.com/VinByte365/Project-Pamada-sub000/internal/config"
	"github.com/VinByte365/Project-Pamada-sub000/internal/logging"
)

type commandContext struct {
	configFlag *string
	verbose    *bool

	configOnce sync.Once
	config     *config.Config
	logger     *zap.Logger
	flush      func()
	configErr  error

	appOnce sync.Once
	app     *app.App
	appErr  error
}

func newCommandContext(configFlag *string, verbose *bool) *commandContext {
	return &commandContext{configFlag: configFlag, verbose: verbose}
}

// ensureConfig loads .env, the config file and the environment once.
func (c *commandContext) ensureConfig() (*config.Config, *zap.Logger, error) {
	c.configOnce.Do(func() {
		_ = godotenv.Load()
		if c.configFlag != nil {
			if path := strings.TrimSpace(*c.configFlag); path != "" {
				_ = os.Setenv("CONFIG_FILE", path)
			}
		}
		cfg, err := config.Load()
		if err != nil {
			c.configErr = err
			return
		}
		level := cfg.Log.Level
		if c.verbose != nil && *c.verbose {
			level = "debug"
		}
		logger, flush, err := logging.Install(cfg.Env, level)
		if err != nil {
			c.configErr = err
			return
		}
		c.config, c.logger, c.flush = cfg, logger, flush
	})
	return c.config, c.logger, c.configErr
}

// ensureApp wires the full service graph once.
func (c *commandContext) ensureApp(ctx context.Context) (*app.App, error) {
	c.appOnce.Do(func() {
		cfg, logger, err := c.ensureConfig()
		if err != nil {
			c.appErr = err
			return
		}
		c.app, c.appErr = app.New(ctx, cfg, logger)
	})
	return c.app, c.appErr
}

func (c *commandContext) close() {
	if c.app != nil {
		c.app.Close()
	}
	if c.flush != nil {
		c.flush()
	}
}
