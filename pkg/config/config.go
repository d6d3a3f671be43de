// Package config provides configuration management for deepresearch
package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/memtensor/deepresearch/pkg/errors"
	"github.com/memtensor/deepresearch/pkg/types"
)

// EnvPrefix is the prefix of environment overrides, e.g. DEEPRESEARCH_API_PORT
const EnvPrefix = "DEEPRESEARCH"

// Pipeline topologies
const (
	TopologyLinear     = "linear"
	TopologySupervisor = "supervisor"
)

// APIConfig represents API server configuration
type APIConfig struct {
	Host         string        `mapstructure:"host" yaml:"host" json:"host" validate:"required"`
	Port         int           `mapstructure:"port" yaml:"port" json:"port" validate:"required,gt=0,lt=65536"`
	ProjectName  string        `mapstructure:"project_name" yaml:"project_name" json:"project_name"`
	APIPrefix    string        `mapstructure:"api_prefix" yaml:"api_prefix" json:"api_prefix" validate:"required,startswith=/"`
	CORSOrigins  []string      `mapstructure:"cors_origins" yaml:"cors_origins" json:"cors_origins"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" json:"write_timeout"`
	DocsEnabled  bool          `mapstructure:"docs_enabled" yaml:"docs_enabled" json:"docs_enabled"`
}

// LLMConfig represents the connection to the text-generation backend
type LLMConfig struct {
	Backend     types.BackendType `mapstructure:"backend" yaml:"backend" json:"backend" validate:"required,oneof=openai ollama"`
	APIKey      string            `mapstructure:"api_key" yaml:"api_key" json:"api_key,omitempty"`
	BaseURL     string            `mapstructure:"base_url" yaml:"base_url" json:"base_url,omitempty"`
	MaxTokens   int               `mapstructure:"max_tokens" yaml:"max_tokens" json:"max_tokens" validate:"gte=0"`
	Temperature float64           `mapstructure:"temperature" yaml:"temperature" json:"temperature" validate:"gte=0,lte=2"`
	Timeout     time.Duration     `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
}

// ModelsConfig names the model used by each pipeline stage
type ModelsConfig struct {
	Memory       string `mapstructure:"memory" yaml:"memory" json:"memory" validate:"required"`
	Conversation string `mapstructure:"conversation" yaml:"conversation" json:"conversation" validate:"required"`
	Context      string `mapstructure:"context" yaml:"context" json:"context" validate:"required"`
	Reasoning    string `mapstructure:"reasoning" yaml:"reasoning" json:"reasoning" validate:"required"`
	Answer       string `mapstructure:"answer" yaml:"answer" json:"answer" validate:"required"`
	Citation     string `mapstructure:"citation" yaml:"citation" json:"citation" validate:"required"`
	Supervisor   string `mapstructure:"supervisor" yaml:"supervisor" json:"supervisor" validate:"required"`
	Grounding    string `mapstructure:"grounding" yaml:"grounding" json:"grounding" validate:"required"`
	Streaming    string `mapstructure:"streaming" yaml:"streaming" json:"streaming" validate:"required"`
	Embedding    string `mapstructure:"embedding" yaml:"embedding" json:"embedding" validate:"required"`
}

// MemoryConfig represents the memory store configuration
type MemoryConfig struct {
	Backend          types.BackendType `mapstructure:"backend" yaml:"backend" json:"backend" validate:"required,oneof=naive qdrant"`
	Path             string            `mapstructure:"path" yaml:"path" json:"path"`
	QdrantHost       string            `mapstructure:"qdrant_host" yaml:"qdrant_host" json:"qdrant_host"`
	QdrantPort       int               `mapstructure:"qdrant_port" yaml:"qdrant_port" json:"qdrant_port"`
	QdrantAPIKey     string            `mapstructure:"qdrant_api_key" yaml:"qdrant_api_key" json:"qdrant_api_key,omitempty"`
	Collection       string            `mapstructure:"collection" yaml:"collection" json:"collection"`
	Dimension        int               `mapstructure:"dimension" yaml:"dimension" json:"dimension"`
	ConnectTimeout   time.Duration     `mapstructure:"connect_timeout" yaml:"connect_timeout" json:"connect_timeout"`
	ScrollBatchLimit int               `mapstructure:"scroll_batch_limit" yaml:"scroll_batch_limit" json:"scroll_batch_limit"`
}

// ConversationConfig represents the conversation store configuration
type ConversationConfig struct {
	Backend       types.BackendType `mapstructure:"backend" yaml:"backend" json:"backend" validate:"required,oneof=sqlite redis"`
	DatabasePath  string            `mapstructure:"database_path" yaml:"database_path" json:"database_path"`
	RedisAddr     string            `mapstructure:"redis_addr" yaml:"redis_addr" json:"redis_addr"`
	RedisPassword string            `mapstructure:"redis_password" yaml:"redis_password" json:"redis_password,omitempty"`
	RedisDB       int               `mapstructure:"redis_db" yaml:"redis_db" json:"redis_db"`
	KeyPrefix     string            `mapstructure:"key_prefix" yaml:"key_prefix" json:"key_prefix"`
}

// EventsConfig controls publication of delivered events to NATS
type EventsConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	URL           string        `mapstructure:"url" yaml:"url" json:"url"`
	SubjectPrefix string        `mapstructure:"subject_prefix" yaml:"subject_prefix" json:"subject_prefix"`
	ConnectWait   time.Duration `mapstructure:"connect_wait" yaml:"connect_wait" json:"connect_wait"`
}

// RetrievalConfig holds ranking and retrieval parameters
type RetrievalConfig struct {
	MemoryTopN             int           `mapstructure:"memory_top_n" yaml:"memory_top_n" json:"memory_top_n" validate:"gt=0"`
	ConversationTopN       int           `mapstructure:"conversation_top_n" yaml:"conversation_top_n" json:"conversation_top_n" validate:"gt=0"`
	HistoryLimit           int           `mapstructure:"history_limit" yaml:"history_limit" json:"history_limit" validate:"gt=0"`
	StreamingTopN          int           `mapstructure:"streaming_top_n" yaml:"streaming_top_n" json:"streaming_top_n" validate:"gt=0"`
	SupervisorHistoryLimit int           `mapstructure:"supervisor_history_limit" yaml:"supervisor_history_limit" json:"supervisor_history_limit" validate:"gt=0"`
	K1                     float64       `mapstructure:"k1" yaml:"k1" json:"k1" validate:"gt=0"`
	B                      float64       `mapstructure:"b" yaml:"b" json:"b" validate:"gte=0,lte=1"`
	Epsilon                float64       `mapstructure:"epsilon" yaml:"epsilon" json:"epsilon" validate:"gte=0"`
	ReadRetryAttempts      uint          `mapstructure:"read_retry_attempts" yaml:"read_retry_attempts" json:"read_retry_attempts" validate:"gt=0"`
	ReadRetryDelay         time.Duration `mapstructure:"read_retry_delay" yaml:"read_retry_delay" json:"read_retry_delay"`
}

// PipelineConfig selects the orchestration topology
type PipelineConfig struct {
	Topology string `mapstructure:"topology" yaml:"topology" json:"topology" validate:"required,oneof=linear supervisor"`
}

// AppConfig is the root configuration of the service
type AppConfig struct {
	LogLevel       string             `mapstructure:"log_level" yaml:"log_level" json:"log_level" validate:"oneof=debug info warn error"`
	LogFile        string             `mapstructure:"log_file" yaml:"log_file" json:"log_file,omitempty"`
	MetricsEnabled bool               `mapstructure:"metrics_enabled" yaml:"metrics_enabled" json:"metrics_enabled"`
	API            APIConfig          `mapstructure:"api" yaml:"api" json:"api"`
	LLM            LLMConfig          `mapstructure:"llm" yaml:"llm" json:"llm"`
	Models         ModelsConfig       `mapstructure:"models" yaml:"models" json:"models"`
	Memory         MemoryConfig       `mapstructure:"memory" yaml:"memory" json:"memory"`
	Conversation   ConversationConfig `mapstructure:"conversation" yaml:"conversation" json:"conversation"`
	Events         EventsConfig       `mapstructure:"events" yaml:"events" json:"events"`
	Retrieval      RetrievalConfig    `mapstructure:"retrieval" yaml:"retrieval" json:"retrieval"`
	Pipeline       PipelineConfig     `mapstructure:"pipeline" yaml:"pipeline" json:"pipeline"`
}

// DefaultConfig returns the configuration used when nothing is overridden
func DefaultConfig() *AppConfig {
	return &AppConfig{
		LogLevel:       "info",
		MetricsEnabled: true,
		API: APIConfig{
			Host:        "0.0.0.0",
			Port:        8000,
			ProjectName: "Deep Research Memory API",
			APIPrefix:   "/api/v1",
			CORSOrigins: []string{
				"http://localhost:3000",
				"http://localhost:3001",
				"http://127.0.0.1:3000",
				"http://127.0.0.1:3001",
			},
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
			DocsEnabled:  true,
		},
		LLM: LLMConfig{
			Backend:     types.BackendOpenAI,
			MaxTokens:   2048,
			Temperature: 0.2,
			Timeout:     2 * time.Minute,
		},
		Models: ModelsConfig{
			Memory:       "gpt-4.1-mini",
			Conversation: "gpt-4.1-mini",
			Context:      "gpt-4o",
			Reasoning:    "gpt-4o",
			Answer:       "gpt-4o",
			Citation:     "gpt-4.1-mini",
			Supervisor:   "chatgpt-4.1",
			Grounding:    "gpt-4.1-mini",
			Streaming:    "gpt-4.1-mini",
			Embedding:    "text-embedding-3-small",
		},
		Memory: MemoryConfig{
			Backend:          types.BackendNaive,
			Path:             "./db",
			QdrantHost:       "localhost",
			QdrantPort:       6334,
			Collection:       "mem0",
			Dimension:        1536,
			ConnectTimeout:   30 * time.Second,
			ScrollBatchLimit: 256,
		},
		Conversation: ConversationConfig{
			Backend:      types.BackendSQLite,
			DatabasePath: "research_agent_conversations.db",
			RedisAddr:    "localhost:6379",
			KeyPrefix:    "deepresearch:conversations",
		},
		Events: EventsConfig{
			Enabled:       false,
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "deepresearch.events",
			ConnectWait:   10 * time.Second,
		},
		Retrieval: RetrievalConfig{
			MemoryTopN:             10,
			ConversationTopN:       10,
			HistoryLimit:           10,
			StreamingTopN:          5,
			SupervisorHistoryLimit: 20,
			K1:                     1.5,
			B:                      0.75,
			Epsilon:                0.25,
			ReadRetryAttempts:      3,
			ReadRetryDelay:         200 * time.Millisecond,
		},
		Pipeline: PipelineConfig{
			Topology: TopologySupervisor,
		},
	}
}

var validate = validator.New()

// Validate validates the configuration
func (c *AppConfig) Validate() error {
	return validate.Struct(c)
}

// Address returns the listen address of the API server
func (c *AppConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}

// ToYAMLFile saves configuration to a YAML file
func (c *AppConfig) ToYAMLFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// ToJSONFile saves configuration to a JSON file
func (c *AppConfig) ToJSONFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// Load builds the configuration from defaults, the optional file at path and
// DEEPRESEARCH_* environment variables, in increasing precedence
func Load(path string) (*AppConfig, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

func newViper(path string) (*viper.Viper, error) {
	defaults, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal defaults: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, errors.NewConfigNotFoundError(path).WithDetail("error", err.Error())
		}
		v.SetConfigFile(path)
		v.SetConfigType(strings.TrimPrefix(filepath.Ext(path), "."))
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

func decode(v *viper.Viper) (*AppConfig, error) {
	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.NewConfigInvalidError("invalid configuration: " + err.Error())
	}
	return cfg, nil
}

// ConfigManager holds the current configuration and reloads it when the
// backing file changes
type ConfigManager struct {
	path    string
	mu      sync.RWMutex
	current *AppConfig
	viper   *viper.Viper
}

// NewConfigManager loads the configuration at path
func NewConfigManager(path string) (*ConfigManager, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	return &ConfigManager{path: path, current: cfg, viper: v}, nil
}

// Current returns the active configuration
func (cm *ConfigManager) Current() *AppConfig {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.current
}

// Watch reloads the configuration on file changes and hands every valid
// new configuration to callback. Invalid files are reported through onError
// and leave the active configuration in place.
func (cm *ConfigManager) Watch(ctx context.Context, callback func(*AppConfig), onError func(error)) error {
	if cm.path == "" {
		return fmt.Errorf("no configuration file to watch")
	}

	cm.viper.OnConfigChange(func(e fsnotify.Event) {
		if ctx.Err() != nil {
			return
		}
		cfg, err := Load(cm.path)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}

		cm.mu.Lock()
		cm.current = cfg
		cm.mu.Unlock()

		callback(cfg)
	})
	cm.viper.WatchConfig()

	return nil
}
