package main

import (
	"strings"
	"sync"

	"genesis/internal/config"
)

type commandContext struct {
	apiFlag    *string
	tokenFlag  *string
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(apiFlag, tokenFlag, configFlag *string) *commandContext {
	return &commandContext{
		apiFlag:    apiFlag,
		tokenFlag:  tokenFlag,
		configFlag: configFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// client resolves the API endpoint: the --api flag wins, then the configured
// bind address. The token flag overrides the configured token the same way.
func (c *commandContext) client() (*apiClient, error) {
	base := ""
	if c.apiFlag != nil {
		base = strings.TrimSpace(*c.apiFlag)
	}
	token := ""
	if c.tokenFlag != nil {
		token = strings.TrimSpace(*c.tokenFlag)
	}

	if base == "" || token == "" {
		cfg, err := c.ensureConfig()
		if err != nil {
			return nil, err
		}
		if base == "" {
			base = "http://" + strings.TrimSpace(cfg.Paths.APIBind)
		}
		if token == "" {
			token = cfg.Paths.APIToken
		}
	}
	return newAPIClient(base, token), nil
}
