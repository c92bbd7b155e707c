// Package config loads storykeep settings from YAML, environment and defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/kittclouds/storykeep/internal/store"
)

type Config struct {
	Store    StoreConfig    `mapstructure:"store"`
	Export   ExportConfig   `mapstructure:"export"`
	ImageGen ImageGenConfig `mapstructure:"imagegen"`
	Log      LogConfig      `mapstructure:"log"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver" validate:"required,driver"`
	Path   string `mapstructure:"path" validate:"required"`
	// CascadeImageDelete removes a character's images when the character
	// or its book is deleted. Off by default: images are kept until purged.
	CascadeImageDelete bool `mapstructure:"cascade_image_delete"`
}

type ExportConfig struct {
	IncludeNotes bool `mapstructure:"include_notes"`
}

type ImageGenConfig struct {
	BaseURL      string        `mapstructure:"base_url" validate:"required,url"`
	APIKey       string        `mapstructure:"api_key"`
	Model        string        `mapstructure:"model" validate:"required"`
	Size         string        `mapstructure:"size" validate:"required,oneof=256x256 512x512 1024x1024"`
	Timeout      time.Duration `mapstructure:"timeout" validate:"gt=0"`
	MaxAttempts  uint          `mapstructure:"max_attempts" validate:"min=1,max=10"`
	KeywordLimit int           `mapstructure:"keyword_limit" validate:"min=0,max=20"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

type ConfigLoader struct {
	viper      *viper.Viper
	validator  *validator.Validate
	translator ut.Translator
}

func NewConfigLoader(configFile string) (*ConfigLoader, error) {
	validate, trans, err := newValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create new validator: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("storykeep")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/storykeep")
	}

	return &ConfigLoader{
		viper:      v,
		validator:  validate,
		translator: trans,
	}, nil
}

// Load is shorthand for NewConfigLoader(configFile).Load().
func Load(configFile string) (*Config, error) {
	loader, err := NewConfigLoader(configFile)
	if err != nil {
		return nil, err
	}
	return loader.Load()
}

func (loader *ConfigLoader) Load() (*Config, error) {
	v := loader.viper

	v.SetDefault("store.driver", store.DefaultDriver)
	v.SetDefault("store.path", "storykeep.db")
	v.SetDefault("store.cascade_image_delete", false)
	v.SetDefault("export.include_notes", false)
	v.SetDefault("imagegen.base_url", "https://api.openai.com/v1")
	v.SetDefault("imagegen.model", "dall-e-2")
	v.SetDefault("imagegen.size", "512x512")
	v.SetDefault("imagegen.timeout", 60*time.Second)
	v.SetDefault("imagegen.max_attempts", 3)
	v.SetDefault("imagegen.keyword_limit", 5)
	v.SetDefault("log.level", "info")

	// STORYKEEP_STORE_PATH, STORYKEEP_LOG_LEVEL, ...
	v.SetEnvPrefix("STORYKEEP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The API key is read from the environment only (not from config file)
	if err := v.BindEnv("imagegen.api_key", "IMAGEGEN_API_KEY", "OPENAI_API_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind IMAGEGEN_API_KEY environment variable: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("configuration file found but could not be read: %w. Please check the file format and permissions", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration format: %w", err)
	}

	if err := loader.validator.Struct(cfg); err != nil {
		validationErrors, ok := err.(validator.ValidationErrors)
		if !ok {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		var errorMsgs []string
		for _, e := range validationErrors {
			errorMsgs = append(errorMsgs, e.Translate(loader.translator))
		}
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errorMsgs, ", "))
	}

	return &cfg, nil
}
