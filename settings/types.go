package settings

import (
	"zimage/logger"
)

type (
	Config struct {
		Server     ServerConfig     `toml:"server" validate:"required"`
		Engine     EngineConfig     `toml:"engine" validate:"required"`
		Generation GenerationConfig `toml:"generation" validate:"required"`
		Discord    DiscordConfig    `toml:"discord"`
		Gemini     GeminiConfig     `toml:"gemini"`
		Store      StoreConfig      `toml:"store"`
		Logging    logger.Config    `toml:"logging" validate:"required"`
	}

	// ServerConfig is the inbound HTTP listener.
	ServerConfig struct {
		Host          string `toml:"host"`
		Port          int    `toml:"port" validate:"required,gt=0"`
		RatePerMinute int    `toml:"ratePerMinute" validate:"gte=0"`
		RateBurst     int    `toml:"rateBurst" validate:"gte=0"`
	}

	// EngineConfig points at the external ComfyUI instance.
	EngineConfig struct {
		Url            string `toml:"url" validate:"required"`
		Port           int    `toml:"port" validate:"required,gt=0"`
		TimeoutSeconds int    `toml:"timeoutSeconds" validate:"gte=0"`
		PollSeconds    int    `toml:"pollSeconds" validate:"gte=0"`
	}

	GenerationConfig struct {
		TemplateDir     string   `toml:"templateDir" validate:"required"`
		DefaultTemplate string   `toml:"defaultTemplate" validate:"required"`
		DefaultWidth    int      `toml:"defaultWidth" validate:"gt=0"`
		DefaultHeight   int      `toml:"defaultHeight" validate:"gt=0"`
		DefaultSteps    int      `toml:"defaultSteps" validate:"gt=0"`
		MinSize         int      `toml:"minSize" validate:"gt=0"`
		MaxSize         int      `toml:"maxSize" validate:"gt=0"`
		MaxSteps        int      `toml:"maxSteps" validate:"gt=0"`
		MaxPromptLength int      `toml:"maxPromptLength" validate:"gt=0"`
		MaxConcurrent   int      `toml:"maxConcurrent" validate:"gt=0"`
		DailyLimit      int      `toml:"dailyLimit" validate:"gte=0"`
		RewritePrompts  bool     `toml:"rewritePrompts"`
		BadWords        []string `toml:"badWords"`
	}

	DiscordConfig struct {
		Enabled bool   `toml:"enabled"`
		Token   string `toml:"token"` // taken from DISCORD_TOKEN, never the toml file
		GuildID string `toml:"guildId"`
	}

	GeminiConfig struct {
		ApiKey string `toml:"apiKey"` // taken from GEMINI_API_KEY, never the toml file
		Model  string `toml:"model"`
	}

	StoreConfig struct {
		Path string `toml:"path"`
	}
)
