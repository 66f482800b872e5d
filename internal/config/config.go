package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	// Core
	BotToken      string `env:"BOT_TOKEN,required"`
	OpenRouterKey string `env:"OPENROUTER_API_KEY,required"`
	Model         string `env:"MODEL" envDefault:"openai/gpt-4o-mini"`

	// Plugin data root; the chat log database and the images/ subdirectory
	// live under it.
	DataDir string `env:"DATA_DIR" envDefault:"data/persistent_chat"`

	// Logging surface
	LogPrivateMessages bool `env:"LOG_PRIVATE_MESSAGES" envDefault:"false"`
	LogGroupMessages   bool `env:"LOG_GROUP_MESSAGES" envDefault:"true"`
	LogSelfMessages    bool `env:"LOG_SELF_MESSAGES" envDefault:"true"`

	// Context injection. MaxHistoryMessages <= 0 disables injection entirely.
	InjectContext      bool `env:"INJECT_CONTEXT" envDefault:"true"`
	MaxHistoryMessages int  `env:"MAX_HISTORY_MESSAGES" envDefault:"20"`

	// Admin
	AdminIDs []int64 `env:"ADMIN_IDS" envSeparator:","`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func (c *Config) IsAdmin(telegramID int64) bool {
	for _, id := range c.AdminIDs {
		if id == telegramID {
			return true
		}
	}
	return false
}
