package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type Config struct {
	App      AppConfig      `json:"app"`
	LLM      LLMConfig      `json:"llm"`
	Task     TaskConfig     `json:"task"`
	Session  SessionConfig  `json:"session"`
	Queue    QueueConfig    `json:"queue"`
	Server   ServerConfig   `json:"server"`
	Classify ClassifyConfig `json:"classify"`
}

type AppConfig struct {
	Name    string `json:"name"`
	LogDir  string `json:"log_dir"`
	DataDir string `json:"data_dir"`
	Debug   bool   `json:"debug"`
}

type LLMConfig struct {
	Provider        string  `json:"provider"`
	Model           string  `json:"model"`
	FallbackModel   string  `json:"fallback_model"`
	Temperature     float64 `json:"temperature"`
	OpenAIAPIKey    string  `json:"openai_api_key"`
	AnthropicAPIKey string  `json:"anthropic_api_key"`
	TimeoutSec      int     `json:"timeout_sec"`
}

type TaskConfig struct {
	TTLHours           int `json:"ttl_hours"`
	MaxQuestionRounds  int `json:"max_question_rounds"`
	SearchTimeoutSec   int `json:"search_timeout_sec"`
	CleanupIntervalMin int `json:"cleanup_interval_min"`
}

type SessionConfig struct {
	TTLMinutes    int `json:"ttl_minutes"`
	HistoryWindow int `json:"history_window"`
}

type QueueConfig struct {
	Workers           int `json:"workers"`
	Buffer            int `json:"buffer"`
	MaxRetries        int `json:"max_retries"`
	AttemptTimeoutSec int `json:"attempt_timeout_sec"`
}

type ServerConfig struct {
	Port               int `json:"port"`
	ShutdownTimeoutSec int `json:"shutdown_timeout_sec"`
	SyncTimeoutSec     int `json:"sync_timeout_sec"`
}

// ClassifyConfig keeps the single-match priority list as configuration rather
// than hard-coded order; the exact ordering is subject to product review.
type ClassifyConfig struct {
	SingleMatchPriority []string `json:"single_match_priority"`
}

type Manager struct {
	path string
	mu   sync.RWMutex
	cfg  Config
}

func DefaultPath() string {
	return filepath.Join("config", "config.json")
}

func NewManager(path string) (*Manager, error) {
	mgr := &Manager{
		path: path,
		cfg:  defaultConfig(),
	}
	if err := mgr.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}
	mgr.applyEnv()
	if err := mgr.save(); err != nil {
		return nil, err
	}
	return mgr, nil
}

func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) Update(apply func(*Config)) (Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	apply(&m.cfg)
	applyDefaults(&m.cfg)
	if err := m.saveLocked(); err != nil {
		return Config{}, err
	}
	return m.cfg, nil
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return err
	}
	var fileCfg Config
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		return err
	}
	m.cfg = fileCfg
	applyDefaults(&m.cfg)
	return nil
}

// applyEnv lets secrets come from the environment so they never land in the
// persisted config file.
func (m *Manager) applyEnv() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); key != "" {
		m.cfg.LLM.OpenAIAPIKey = key
	}
	if key := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); key != "" {
		m.cfg.LLM.AnthropicAPIKey = key
	}
	if provider := strings.TrimSpace(os.Getenv("PEERAGENT_LLM_PROVIDER")); provider != "" {
		m.cfg.LLM.Provider = provider
	}
}

func (m *Manager) save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked()
}

func (m *Manager) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return err
	}
	persisted := m.cfg
	// keep secrets out of the file
	persisted.LLM.OpenAIAPIKey = ""
	persisted.LLM.AnthropicAPIKey = ""
	data, err := json.MarshalIndent(persisted, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.path, data, 0644)
}

func defaultConfig() Config {
	cfg := Config{
		App: AppConfig{
			Name:    "PeerAgent",
			LogDir:  "output/logs",
			DataDir: "output/db",
		},
		LLM: LLMConfig{
			Provider:      "openai",
			Model:         "gpt-4o-mini",
			FallbackModel: "claude-sonnet-4-20250514",
			Temperature:   0.7,
			TimeoutSec:    60,
		},
		Task: TaskConfig{
			TTLHours:           24,
			MaxQuestionRounds:  3,
			SearchTimeoutSec:   15,
			CleanupIntervalMin: 30,
		},
		Session: SessionConfig{
			TTLMinutes:    60,
			HistoryWindow: 10,
		},
		Queue: QueueConfig{
			Workers:           4,
			Buffer:            64,
			MaxRetries:        1,
			AttemptTimeoutSec: 180,
		},
		Server: ServerConfig{
			Port:               8080,
			ShutdownTimeoutSec: 5,
			SyncTimeoutSec:     120,
		},
		Classify: ClassifyConfig{
			SingleMatchPriority: []string{"summary", "translate", "email", "data", "competitor"},
		},
	}
	return cfg
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.App.Name) == "" {
		cfg.App.Name = "PeerAgent"
	}
	if strings.TrimSpace(cfg.App.LogDir) == "" {
		cfg.App.LogDir = "output/logs"
	}
	if strings.TrimSpace(cfg.App.DataDir) == "" {
		cfg.App.DataDir = "output/db"
	}
	if strings.TrimSpace(cfg.LLM.Provider) == "" {
		cfg.LLM.Provider = "openai"
	}
	if strings.TrimSpace(cfg.LLM.Model) == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if strings.TrimSpace(cfg.LLM.FallbackModel) == "" {
		cfg.LLM.FallbackModel = "claude-sonnet-4-20250514"
	}
	if cfg.LLM.Temperature <= 0 || cfg.LLM.Temperature > 2 {
		cfg.LLM.Temperature = 0.7
	}
	if cfg.LLM.TimeoutSec <= 0 {
		cfg.LLM.TimeoutSec = 60
	}
	if cfg.Task.TTLHours <= 0 {
		cfg.Task.TTLHours = 24
	}
	if cfg.Task.MaxQuestionRounds <= 0 {
		cfg.Task.MaxQuestionRounds = 3
	}
	if cfg.Task.SearchTimeoutSec <= 0 {
		cfg.Task.SearchTimeoutSec = 15
	}
	if cfg.Task.CleanupIntervalMin <= 0 {
		cfg.Task.CleanupIntervalMin = 30
	}
	if cfg.Session.TTLMinutes <= 0 {
		cfg.Session.TTLMinutes = 60
	}
	if cfg.Session.HistoryWindow <= 0 {
		cfg.Session.HistoryWindow = 10
	}
	if cfg.Queue.Workers <= 0 {
		cfg.Queue.Workers = 4
	}
	if cfg.Queue.Buffer <= 0 {
		cfg.Queue.Buffer = 64
	}
	if cfg.Queue.MaxRetries < 0 {
		cfg.Queue.MaxRetries = 0
	}
	if cfg.Queue.AttemptTimeoutSec <= 0 {
		cfg.Queue.AttemptTimeoutSec = 180
	}
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeoutSec <= 0 {
		cfg.Server.ShutdownTimeoutSec = 5
	}
	if cfg.Server.SyncTimeoutSec <= 0 {
		cfg.Server.SyncTimeoutSec = 120
	}
	if len(cfg.Classify.SingleMatchPriority) == 0 {
		cfg.Classify.SingleMatchPriority = []string{"summary", "translate", "email", "data", "competitor"}
	}
}
