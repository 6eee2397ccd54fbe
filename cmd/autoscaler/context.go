package main

import (
	"errors"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/camwatch/frameparser-autoscaler/internal/config"
	"github.com/camwatch/frameparser-autoscaler/internal/logging"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	logger *logging.Logger
	aws    *aws.Config

	closers []func() error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		level, err := logging.ParseLevel(cfg.Logging.Level)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.logger = logging.New(os.Stderr, level)
	})
	return c.config, c.configErr
}

// onClose registers fn to run after the command finishes.
func (c *commandContext) onClose(fn func() error) {
	c.closers = append(c.closers, fn)
}

func (c *commandContext) close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i]())
	}
	c.closers = nil
	return errors.Join(errs...)
}
