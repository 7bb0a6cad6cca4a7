package main

import (
	"context"
	"sync"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/tkendall99/bedtime-solved/internal/bootstrap"
	"github.com/tkendall99/bedtime-solved/internal/infra"
)

// commandContext opens config and connections on first use so that help and
// flag errors work without a database.
type commandContext struct {
	envFile *string
	verbose *bool

	once   sync.Once
	cfg    *infra.Config
	deps   *bootstrap.Deps
	logger zerolog.Logger
	err    error
}

func newCommandContext(envFile *string, verbose *bool) *commandContext {
	return &commandContext{envFile: envFile, verbose: verbose}
}

func (c *commandContext) open(ctx context.Context) (*bootstrap.Deps, error) {
	c.once.Do(func() {
		if c.envFile != nil && *c.envFile != "" {
			_ = godotenv.Load(*c.envFile)
		} else {
			_ = godotenv.Load()
		}
		c.cfg, c.err = infra.LoadConfig()
		if c.err != nil {
			return
		}
		c.logger = infra.NewLogger("cli")
		if c.verbose == nil || !*c.verbose {
			c.logger = c.logger.Level(zerolog.WarnLevel)
		}
		c.deps, c.err = bootstrap.Open(ctx, c.cfg, c.logger)
	})
	return c.deps, c.err
}

func (c *commandContext) close() {
	if c.deps != nil {
		c.deps.Close()
	}
}
