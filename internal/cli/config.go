package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	metaform "github.com/kaushikn07/Metaform"
)

// Config is the resolved CLI configuration.
type Config struct {
	Provider     string        `yaml:"provider" mapstructure:"provider"` // openrouter, openai or gemini
	Model        string        `yaml:"model" mapstructure:"model"`
	BaseURL      string        `yaml:"base_url" mapstructure:"base_url"`
	Referer      string        `yaml:"referer" mapstructure:"referer"`
	APIKey       string        `yaml:"api_key" mapstructure:"api_key"`
	TokenBudget  int           `yaml:"token_budget" mapstructure:"token_budget"`
	MinChunks    int           `yaml:"min_chunks" mapstructure:"min_chunks"`
	Concurrency  int           `yaml:"concurrency" mapstructure:"concurrency"`
	Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"`
	CallTimeout  time.Duration `yaml:"call_timeout" mapstructure:"call_timeout"`
	Retries      int           `yaml:"retries" mapstructure:"retries"`
	Backoff      time.Duration `yaml:"backoff" mapstructure:"backoff"`
	RateLimit    float64       `yaml:"rate_limit" mapstructure:"rate_limit"` // requests per second, 0 = off
	Cache        bool          `yaml:"cache" mapstructure:"cache"`
	AllowPartial bool          `yaml:"allow_partial" mapstructure:"allow_partial"`
	Validate     bool          `yaml:"validate" mapstructure:"validate"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", "openrouter")
	v.SetDefault("model", metaform.DefaultOpenRouterModel)
	v.SetDefault("referer", "https://metaform-demo.streamlit.app/")
	v.SetDefault("token_budget", metaform.DefaultTokenBudget)
	v.SetDefault("min_chunks", metaform.DefaultMinChunks)
	v.SetDefault("concurrency", metaform.DefaultMaxConcurrency)
	v.SetDefault("timeout", 5*time.Minute)
	v.SetDefault("call_timeout", 90*time.Second)
	v.SetDefault("retries", 2)
	v.SetDefault("backoff", time.Second)
	v.SetDefault("rate_limit", 0.0)
	v.SetDefault("cache", true)
	v.SetDefault("allow_partial", false)
	v.SetDefault("validate", false)
}

// loadConfig resolves the configuration from v. Provider specific key
// variables are honoured when no key is configured.
func loadConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if cfg.APIKey == "" {
		switch cfg.Provider {
		case "gemini":
			cfg.APIKey = os.Getenv("GEMINI_API_KEY")
		case "openai":
			cfg.APIKey = os.Getenv("OPENAI_API_KEY")
		default:
			cfg.APIKey = os.Getenv("OPENROUTER_API_KEY")
		}
	}
	return cfg, nil
}

// options turns the configuration into per-request options.
func (c Config) options() []func(*metaform.Options) {
	opts := []func(*metaform.Options){
		metaform.WithModel(c.Model),
		metaform.WithTimeout(c.Timeout),
		metaform.WithCallTimeout(c.CallTimeout),
		metaform.WithConcurrency(c.Concurrency),
		metaform.WithTokenBudget(c.TokenBudget),
		metaform.WithMinChunks(c.MinChunks),
		metaform.WithRetry(c.Retries, c.Backoff),
	}
	if c.AllowPartial {
		opts = append(opts, metaform.WithAllowPartial())
	}
	if c.Validate {
		opts = append(opts, metaform.WithValidation())
	}
	return opts
}

// redacted hides the API key for display.
func (c Config) redacted() Config {
	if c.APIKey != "" {
		c.APIKey = "********"
	}
	return c
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage Metaform configuration",
	Long: `Manage Metaform configuration.

Configuration hierarchy (highest to lowest priority):
1. CLI flags
2. Environment variables (METAFORM_*)
3. Config file (~/.metaform/config.yaml)
4. Defaults`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(viper.GetViper())
		if err != nil {
			return err
		}
		if f := viper.ConfigFileUsed(); f != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "Configuration file: %s\n\n", f)
		} else {
			fmt.Fprintf(cmd.ErrOrStderr(), "No configuration file found (using defaults)\n\n")
		}
		out, err := yaml.Marshal(cfg.redacted())
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
}
