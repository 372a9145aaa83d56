// Copyright (c) 2026 IntelliDesk Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MailConfig holds credentials and endpoints for the mail provider API.
type MailConfig struct {
	BaseURL      string `yaml:"base_url"`
	Mailbox      string `yaml:"mailbox"` // support inbox address, e.g. support@example.com
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	TokenURL     string `yaml:"token_url"`
}

// LLMConfig holds settings for the OpenAI-compatible model endpoint used
// for classification, response generation, and embeddings.
type LLMConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"` // empty = provider default
	Model          string `yaml:"model"`
	EmbeddingModel string `yaml:"embedding_model"`
}

// Config holds all configuration for the helpdesk service.
type Config struct {
	Mail MailConfig
	LLM  LLMConfig

	// Ingestion
	PollInterval time.Duration
	FetchLimit   int

	// Postgres
	DatabaseURL string

	// Redis
	RedisURL    string
	EventsQueue string

	// HTTP API
	Port int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Mail  MailConfig `yaml:"mail"`
	LLM   LLMConfig  `yaml:"llm"`
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			Events string `yaml:"events"`
		} `yaml:"queues"`
	} `yaml:"redis"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		Mail:         raw.Mail,
		LLM:          raw.LLM,
		PollInterval: envOrDefaultDuration("POLL_INTERVAL", 30*time.Second),
		FetchLimit:   envOrDefaultInt("FETCH_LIMIT", 25),
		DatabaseURL:  firstNonEmpty(raw.Database.URL, envOrDefault("DATABASE_URL", "postgres://localhost:5432/helpdesk")),
		RedisURL:     firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		EventsQueue:  firstNonEmpty(raw.Redis.Queues.Events, envOrDefault("EVENTS_QUEUE", "ticket-events")),
		Port:         envOrDefaultInt("PORT", 8080),
	}

	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("LLM_API_KEY")
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = envOrDefault("LLM_MODEL", "gpt-4o-mini")
	}
	if cfg.LLM.EmbeddingModel == "" {
		cfg.LLM.EmbeddingModel = envOrDefault("LLM_EMBEDDING_MODEL", "text-embedding-3-small")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Mail.BaseURL == "" {
		return fmt.Errorf("mail.base_url is required")
	}
	if c.Mail.Mailbox == "" {
		return fmt.Errorf("mail.mailbox is required")
	}
	if c.Mail.ClientID == "" || c.Mail.ClientSecret == "" {
		return fmt.Errorf("mail credentials missing; check config.yaml and environment variables")
	}
	if c.Mail.TokenURL == "" && c.Mail.TenantID == "" {
		return fmt.Errorf("mail.token_url or mail.tenant_id is required")
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key (or LLM_API_KEY) is required")
	}
	return nil
}

// ResolveTokenURL returns the OAuth2 token endpoint, deriving the
// Microsoft identity platform URL from the tenant ID when no explicit
// token URL is configured.
func (c *MailConfig) ResolveTokenURL() string {
	if c.TokenURL != "" {
		return c.TokenURL
	}
	return fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", c.TenantID)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
