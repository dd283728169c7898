package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/harrywu96/AniverseGateway-sub001/internal/config"
	"github.com/harrywu96/AniverseGateway-sub001/internal/logging"
	"github.com/harrywu96/AniverseGateway-sub001/internal/profile"
	"github.com/harrywu96/AniverseGateway-sub001/internal/subtitle/pipeline"
	"github.com/harrywu96/AniverseGateway-sub001/internal/subtitle/translate"
)

type commandContext struct {
	configFlag *string
	logLevel   *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(strings.TrimSpace(*c.configFlag))
		if err != nil {
			c.configErr = err
			return
		}
		if lvl := strings.TrimSpace(*c.logLevel); lvl != "" {
			cfg.Logging.Level = lvl
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) logger() (*zap.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return logging.NewFromConfig(cfg)
}

func newRootCommand() *cobra.Command {
	var configFlag, logLevel string
	ctx := &commandContext{configFlag: &configFlag, logLevel: &logLevel}

	root := &cobra.Command{
		Use:           "aniverse",
		Short:         "Subtitle translation gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")

	root.AddCommand(newServeCommand(ctx))
	root.AddCommand(newTranslateCommand(ctx))
	root.AddCommand(newModelsCommand(ctx))
	root.AddCommand(newConfigCommand())
	return root
}

// providerDefaults maps the configuration onto the fallbacks used when a
// request names no profile
func providerDefaults(cfg *config.Config) profile.Defaults {
	b := cfg.Backends.Default
	return profile.Defaults{
		Backend: translate.Config{
			Kind:        translate.Kind(b.Kind),
			Shape:       translate.Kind(b.Shape),
			BaseURL:     b.BaseURL,
			Model:       b.Model,
			Temperature: b.Temperature,
		},
		CredentialRef: b.CredentialRef,
		Timeout:       cfg.RequestTimeout(),
		Retry:         cfg.RetryPolicy(),
		Params: pipeline.Params{
			TargetLanguage: cfg.Pipeline.TargetLanguage,
			Style:          cfg.Pipeline.Style,
			MaxEntries:     cfg.Pipeline.MaxEntries,
			MaxLoad:        cfg.Pipeline.MaxLoad,
			ContextSize:    cfg.Pipeline.ContextSize,
			Parallelism:    cfg.Pipeline.Parallelism,
		},
	}
}

func newLimiter(cfg *config.Config) *translate.Limiter {
	return translate.NewLimiter(cfg.Backends.Limits, cfg.KindLimits())
}
