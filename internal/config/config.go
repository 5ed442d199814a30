package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/run-bigpig/thinktank/internal/logger"
	"github.com/run-bigpig/thinktank/internal/models"
	"github.com/run-bigpig/thinktank/internal/pkg/paths"
	"github.com/run-bigpig/thinktank/internal/store"
)

var log = logger.New("Config")

// 存储后端
const (
	StorageMemory   = store.BackendMemory
	StorageBolt     = store.BackendBolt
	StoragePostgres = store.BackendPostgres
)

// Config 服务配置
type Config struct {
	Port     string
	LogLevel logger.Level

	StorageBackend string
	DatabaseURL    string // postgres DSN
	BoltPath       string

	AI models.AIConfig

	ExpertsFile string // 为空时使用内置专家表
	MCPFile     string // MCP 服务器配置（YAML）

	SegmentTimeout    time.Duration
	DiscussionTimeout time.Duration
	HistoryLimit      int
}

// Load 读取 .env（可选）与环境变量
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn("load .env: %v", err)
	}

	cfg := &Config{
		Port:     getEnv("THINKTANK_PORT", "8080"),
		LogLevel: logger.ParseLevel(getEnv("THINKTANK_LOG_LEVEL", "info")),

		StorageBackend: strings.ToLower(getEnv("THINKTANK_STORAGE", StorageMemory)),
		DatabaseURL:    getEnv("THINKTANK_DATABASE_URL", ""),
		BoltPath:       getEnv("THINKTANK_BOLT_PATH", paths.DefaultBoltPath()),

		AI: models.AIConfig{
			Provider:  models.AIProvider(strings.ToLower(getEnv("THINKTANK_AI_PROVIDER", string(models.AIProviderMock)))),
			APIKey:    getEnv("THINKTANK_AI_API_KEY", ""),
			BaseURL:   getEnv("THINKTANK_AI_BASE_URL", ""),
			ModelName: getEnv("THINKTANK_AI_MODEL", "gpt-4o-mini"),

			NoSystemRole: getEnv("THINKTANK_AI_NO_SYSTEM_ROLE", "") == "1",
		},

		ExpertsFile: getEnv("THINKTANK_EXPERTS_FILE", ""),
		MCPFile:     getEnv("THINKTANK_MCP_FILE", ""),

		SegmentTimeout:    getDuration("THINKTANK_SEGMENT_TIMEOUT", 90*time.Second),
		DiscussionTimeout: getDuration("THINKTANK_DISCUSSION_TIMEOUT", 10*time.Minute),
		HistoryLimit:      getInt("THINKTANK_HISTORY_LIMIT", 30),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StorageBackend {
	case StorageMemory, StorageBolt:
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("THINKTANK_DATABASE_URL is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}

	switch c.AI.Provider {
	case models.AIProviderMock:
	case models.AIProviderOpenAI, models.AIProviderGemini:
		if c.AI.APIKey == "" {
			return fmt.Errorf("THINKTANK_AI_API_KEY is required for provider %s", c.AI.Provider)
		}
	default:
		return fmt.Errorf("unknown AI provider %q", c.AI.Provider)
	}

	if c.SegmentTimeout <= 0 || c.DiscussionTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	return nil
}

// mcpFile MCP 配置文件结构
type mcpFile struct {
	Servers []models.MCPServerConfig `yaml:"servers"`
}

// LoadMCPServers 读取 MCP 服务器配置，未配置文件时返回空
func (c *Config) LoadMCPServers() ([]models.MCPServerConfig, error) {
	if c.MCPFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(c.MCPFile)
	if err != nil {
		return nil, fmt.Errorf("read mcp config: %w", err)
	}
	var f mcpFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse mcp config: %w", err)
	}
	return f.Servers, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Warn("invalid %s=%q, using %d", key, v, def)
		return def
	}
	return n
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn("invalid %s=%q, using %s", key, v, def)
		return def
	}
	return d
}
