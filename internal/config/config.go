package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

type Config struct {
	App   AppConfig   `toml:"app"`
	Log   LogConfig   `toml:"log"`
	Model ModelConfig `toml:"model"`
	Train TrainConfig `toml:"train"`
	MySQL MySQLConfig `toml:"mysql"`
}

type AppConfig struct {
	Name           string `toml:"name"`
	Env            string `toml:"env"`
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	GinMode        string `toml:"gin_mode"`
	MaxUploadBytes int64  `toml:"max_upload_bytes"`
	WebDir         string `toml:"web_dir"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type ModelConfig struct {
	Path                   string            `toml:"path"`
	URL                    string            `toml:"url"`
	DownloadTimeoutSeconds int               `toml:"download_timeout_seconds"`
	ONNXSharedLibPath      string            `toml:"onnx_shared_lib_path"`
	Labels                 []string          `toml:"labels"`
	DisplayNames           map[string]string `toml:"display_names"`
	Precision              int               `toml:"precision"`
}

type TrainConfig struct {
	DatasetDir   string   `toml:"dataset_dir"`
	OutputPath   string   `toml:"output_path"`
	Classes      []string `toml:"classes"`
	ImageSize    int      `toml:"image_size"`
	BatchSize    int      `toml:"batch_size"`
	Epochs       int      `toml:"epochs"`
	LearningRate float64  `toml:"learning_rate"`
	Seed         int64    `toml:"seed"`
}

type MySQLConfig struct {
	Enabled  bool   `toml:"enabled"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	DB       string `toml:"db"`
	Params   string `toml:"params"`
}

// Load applies defaults, then configs/config.toml (or CONFIG_FILE), then
// environment variables. A .env file in the working directory is loaded first
// if present; variables already set in the environment win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := defaultConfig()

	configPath := getEnv("CONFIG_FILE", "configs/config.toml")
	if _, err := os.Stat(configPath); err == nil {
		if _, err := toml.DecodeFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("decode config file failed: %w", err)
		}
	}

	overrideByEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Model.Path == "" {
		return fmt.Errorf("model.path must be set")
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		return fmt.Errorf("app.port out of range (got %d)", c.App.Port)
	}
	if c.Train.ImageSize <= 0 {
		return fmt.Errorf("train.image_size must be > 0 (got %d)", c.Train.ImageSize)
	}
	if c.Train.BatchSize <= 0 {
		return fmt.Errorf("train.batch_size must be > 0 (got %d)", c.Train.BatchSize)
	}
	if c.Train.Epochs <= 0 {
		return fmt.Errorf("train.epochs must be > 0 (got %d)", c.Train.Epochs)
	}
	return nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.App.Host, c.App.Port)
}

func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
		c.MySQL.User,
		c.MySQL.Password,
		c.MySQL.Host,
		c.MySQL.Port,
		c.MySQL.DB,
		c.MySQL.Params,
	)
}

func defaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:           "mental-cdss",
			Env:            "dev",
			Host:           "0.0.0.0",
			Port:           8080,
			GinMode:        "debug",
			MaxUploadBytes: 10 << 20,
			WebDir:         "web",
		},
		Log: LogConfig{
			Level: "info",
		},
		Model: ModelConfig{
			Path:                   "model/best_model.bin",
			URL:                    "",
			DownloadTimeoutSeconds: 600,
			ONNXSharedLibPath:      "", // use default or set via ONNX_LIB
			Precision:              2,
		},
		Train: TrainConfig{
			DatasetDir:   "dataset",
			OutputPath:   "model/best_model.bin",
			Classes:      []string{"Depresi", "Normal"},
			ImageSize:    150,
			BatchSize:    8,
			Epochs:       3,
			LearningRate: 0.001,
			Seed:         42,
		},
		MySQL: MySQLConfig{
			Enabled:  false,
			Host:     "127.0.0.1",
			Port:     3306,
			User:     "root",
			Password: "",
			DB:       "mental_cdss",
			Params:   "parseTime=true&loc=Local&charset=utf8mb4",
		},
	}
}

func overrideByEnv(cfg *Config) {
	cfg.App.Name = getEnv("APP_NAME", cfg.App.Name)
	cfg.App.Env = getEnv("APP_ENV", cfg.App.Env)
	cfg.App.Host = getEnv("APP_HOST", cfg.App.Host)
	cfg.App.Port = getEnvAsInt("APP_PORT", cfg.App.Port)
	cfg.App.GinMode = getEnv("GIN_MODE", cfg.App.GinMode)
	cfg.App.WebDir = getEnv("APP_WEB_DIR", cfg.App.WebDir)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)

	cfg.Model.Path = getEnv("MODEL_PATH", cfg.Model.Path)
	cfg.Model.URL = getEnv("MODEL_URL", cfg.Model.URL)
	cfg.Model.DownloadTimeoutSeconds = getEnvAsInt("MODEL_DOWNLOAD_TIMEOUT_SECONDS", cfg.Model.DownloadTimeoutSeconds)
	cfg.Model.ONNXSharedLibPath = getEnv("ONNX_LIB", cfg.Model.ONNXSharedLibPath)
	cfg.Model.Labels = getEnvAsList("MODEL_LABELS", cfg.Model.Labels)
	cfg.Model.Precision = getEnvAsInt("MODEL_PRECISION", cfg.Model.Precision)

	cfg.Train.DatasetDir = getEnv("TRAIN_DATASET_DIR", cfg.Train.DatasetDir)
	cfg.Train.OutputPath = getEnv("TRAIN_OUTPUT_PATH", cfg.Train.OutputPath)
	cfg.Train.Classes = getEnvAsList("TRAIN_CLASSES", cfg.Train.Classes)
	cfg.Train.ImageSize = getEnvAsInt("TRAIN_IMAGE_SIZE", cfg.Train.ImageSize)
	cfg.Train.BatchSize = getEnvAsInt("TRAIN_BATCH_SIZE", cfg.Train.BatchSize)
	cfg.Train.Epochs = getEnvAsInt("TRAIN_EPOCHS", cfg.Train.Epochs)

	cfg.MySQL.Enabled = getEnvAsBool("MYSQL_ENABLED", cfg.MySQL.Enabled)
	cfg.MySQL.Host = getEnv("MYSQL_HOST", cfg.MySQL.Host)
	cfg.MySQL.Port = getEnvAsInt("MYSQL_PORT", cfg.MySQL.Port)
	cfg.MySQL.User = getEnv("MYSQL_USER", cfg.MySQL.User)
	cfg.MySQL.Password = getEnv("MYSQL_PASSWORD", cfg.MySQL.Password)
	cfg.MySQL.DB = getEnv("MYSQL_DB", cfg.MySQL.DB)
	cfg.MySQL.Params = getEnv("MYSQL_PARAMS", cfg.MySQL.Params)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvAsList splits a comma separated value, e.g. MODEL_LABELS="a,b".
func getEnvAsList(key string, fallback []string) []string {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
