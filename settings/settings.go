package settings

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	return validate.Struct(c)
}

// LoadConfig loads the configuration from the given toml file, applies
// defaults and environment credentials, and validates the result.
func LoadConfig(configPath string) (*Config, error) {
	var config Config

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", configPath)
	}

	absPath, err := filepath.Abs(configPath)
	if err != nil {
		absPath = configPath // fallback to relative path
	}

	_, err = toml.DecodeFile(configPath, &config)
	if err != nil {
		return nil, fmt.Errorf("error parsing config file %s: %w", absPath, err)
	}

	applyDefaults(&config)
	loadCredentials(&config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// loadCredentials pulls secrets from the environment (or a .env file) so
// they never live in config.toml.
func loadCredentials(config *Config) {
	_ = godotenv.Load()

	if token := os.Getenv("DISCORD_TOKEN"); token != "" {
		config.Discord.Token = token
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		config.Gemini.ApiKey = key
	}
}

func applyDefaults(config *Config) {
	if config.Engine.TimeoutSeconds == 0 {
		config.Engine.TimeoutSeconds = 300
	}
	if config.Engine.PollSeconds == 0 {
		config.Engine.PollSeconds = 1
	}
	if config.Server.RatePerMinute == 0 {
		config.Server.RatePerMinute = 10
	}
	if config.Server.RateBurst == 0 {
		config.Server.RateBurst = 3
	}

	gen := &config.Generation
	if gen.TemplateDir == "" {
		gen.TemplateDir = "workflows"
	}
	if gen.DefaultTemplate == "" {
		gen.DefaultTemplate = "zimage"
	}
	if gen.DefaultWidth == 0 {
		gen.DefaultWidth = 1024
	}
	if gen.DefaultHeight == 0 {
		gen.DefaultHeight = 1024
	}
	if gen.DefaultSteps == 0 {
		gen.DefaultSteps = 8
	}
	if gen.MinSize == 0 {
		gen.MinSize = 512
	}
	if gen.MaxSize == 0 {
		gen.MaxSize = 2048
	}
	if gen.MaxSteps == 0 {
		gen.MaxSteps = 20
	}
	if gen.MaxPromptLength == 0 {
		gen.MaxPromptLength = 2000
	}
	if gen.MaxConcurrent == 0 {
		gen.MaxConcurrent = 2
	}
	if config.Gemini.Model == "" {
		config.Gemini.Model = "gemini-2.5-flash-lite-preview-06-17"
	}
	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "text"
	}
}
