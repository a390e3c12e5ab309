//
// Copyright (C) 2025 Canopy Authors. All rights reserved.
//
// canopy is licensed under the Apache License Version 2.0.
//
//

package main

import (
	"strings"

	"github.com/spf13/viper"
)

type config struct {
	Server serverConfig
	Redis  redisConfig
	OpenAI openAIConfig
	Agent  agentConfig
}

type serverConfig struct {
	Addr        string `mapstructure:"addr"`
	WorkflowDir string `mapstructure:"workflow_dir"`
	LogLevel    string `mapstructure:"log_level"`
}

type redisConfig struct {
	URL string `mapstructure:"url"`
}

type openAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

type agentConfig struct {
	UserID            string `mapstructure:"user_id"`
	SystemPrompt      string `mapstructure:"system_prompt"`
	PresetPrompt      string `mapstructure:"preset_prompt"`
	MaxIterationCount int    `mapstructure:"max_iteration_count"`
}

// loadConfig reads configuration from canopy.yaml (if present) and
// CANOPY_-prefixed environment variables.
func loadConfig() (*config, error) {
	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("server.workflow_dir", "")
	viper.SetDefault("server.log_level", "info")

	viper.SetDefault("redis.url", "redis://localhost:6379/0")

	viper.SetDefault("openai.api_key", "")
	viper.SetDefault("openai.base_url", "")
	viper.SetDefault("openai.model", "gpt-4o-mini")

	viper.SetDefault("agent.user_id", "local")
	viper.SetDefault("agent.system_prompt", "")
	viper.SetDefault("agent.preset_prompt", "")
	viper.SetDefault("agent.max_iteration_count", 5)

	viper.SetConfigName("canopy")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("CANOPY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	for _, key := range []string{
		"server.addr", "server.workflow_dir", "server.log_level",
		"redis.url",
		"openai.api_key", "openai.base_url", "openai.model",
		"agent.user_id", "agent.system_prompt", "agent.preset_prompt",
		"agent.max_iteration_count",
	} {
		_ = viper.BindEnv(key)
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, err
		}
	}

	var cfg config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
