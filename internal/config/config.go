package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const Version = "0.1.0"

const (
	StoreSQLite = "sqlite"
	StoreBadger = "badger"
)

type Config struct {
	InstanceName string `yaml:"instance_name"`
	HTTPPort     int    `yaml:"http_port"`
	Debug        bool   `yaml:"debug"`
	LogLevel     string `yaml:"log_level"`
	LogFormat    string `yaml:"log_format"`

	DataDir  string `yaml:"data_dir"`
	JobStore string `yaml:"job_store"`
	DBPath   string `yaml:"db_path"`

	Automation AutomationConfig `yaml:"automation"`
	Worker     WorkerConfig     `yaml:"worker"`
}

type AutomationConfig struct {
	Interpreter string `yaml:"interpreter"`
	Script      string `yaml:"script"`
	Dir         string `yaml:"dir"`
}

type WorkerConfig struct {
	PollIntervalMS  int `yaml:"poll_interval_ms"`
	InitialProgress int `yaml:"initial_progress"`
	ProgressStep    int `yaml:"progress_step"`
	ProgressCap     int `yaml:"progress_cap"`
}

func (w WorkerConfig) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalMS) * time.Millisecond
}

func Default() *Config {
	return &Config{
		InstanceName: "jobtracker",
		HTTPPort:     8000,
		LogLevel:     "info",
		LogFormat:    "text",
		DataDir:      "./data",
		JobStore:     StoreSQLite,
		Automation: AutomationConfig{
			Interpreter: "python3",
			Script:      "runAiBot.py",
		},
		Worker: WorkerConfig{
			PollIntervalMS:  100,
			InitialProgress: 5,
			ProgressStep:    1,
			ProgressCap:     95,
		},
	}
}

// Load builds the configuration from defaults, then the YAML file at path (or
// $JOBTRACKER_CONFIG when path is empty), then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("JOBTRACKER_CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "jobs.db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.InstanceName = getEnv("INSTANCE_NAME", c.InstanceName)
	c.HTTPPort = getEnvInt("HTTP_PORT", c.HTTPPort)
	c.Debug = getEnvBool("DEBUG", c.Debug)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)

	c.DataDir = getEnv("DATA_DIR", c.DataDir)
	c.JobStore = getEnv("JOB_STORE", c.JobStore)
	c.DBPath = getEnv("DB_PATH", c.DBPath)

	c.Automation.Interpreter = getEnv("AUTOMATION_INTERPRETER", c.Automation.Interpreter)
	c.Automation.Script = getEnv("AUTOMATION_SCRIPT", c.Automation.Script)
	c.Automation.Dir = getEnv("AUTOMATION_DIR", c.Automation.Dir)

	c.Worker.PollIntervalMS = getEnvInt("WORKER_POLL_INTERVAL_MS", c.Worker.PollIntervalMS)
	c.Worker.InitialProgress = getEnvInt("WORKER_INITIAL_PROGRESS", c.Worker.InitialProgress)
	c.Worker.ProgressStep = getEnvInt("WORKER_PROGRESS_STEP", c.Worker.ProgressStep)
	c.Worker.ProgressCap = getEnvInt("WORKER_PROGRESS_CAP", c.Worker.ProgressCap)
}

func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port %d", c.HTTPPort)
	}
	switch c.JobStore {
	case StoreSQLite, StoreBadger:
	default:
		return fmt.Errorf("unknown job store %q (want %s or %s)", c.JobStore, StoreSQLite, StoreBadger)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	if c.Automation.Interpreter == "" {
		return errors.New("automation interpreter must be set")
	}
	if c.Worker.PollIntervalMS <= 0 {
		return fmt.Errorf("invalid worker poll interval %dms", c.Worker.PollIntervalMS)
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return fallback
}
