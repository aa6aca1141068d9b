package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Bind            string `yaml:"bind"`
		Port            int    `yaml:"port"`
		Advertise       string `yaml:"advertise"`
		MaxParticipants int    `yaml:"max_participants"`
		Heartbeat       string `yaml:"heartbeat"`
		LoginTimeout    string `yaml:"login_timeout"`
	} `yaml:"server"`
	Game struct {
		AnswerTimeout string   `yaml:"answer_timeout"`
		BotDelayMin   string   `yaml:"bot_delay_min"`
		BotDelayMax   string   `yaml:"bot_delay_max"`
		RoundDelay    string   `yaml:"round_delay"`
		Difficulty    string   `yaml:"difficulty"`
		Bots          int      `yaml:"bots"`
		Categories    []string `yaml:"categories"`
		RevealAnswers bool     `yaml:"reveal_answers"`
	} `yaml:"game"`
	Bank struct {
		Dir string `yaml:"dir"`
		TTL string `yaml:"ttl"`
	} `yaml:"bank"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	cfg := Config{}
	cfg.Server.Bind = "0.0.0.0"
	cfg.Server.Port = 5000
	cfg.Server.MaxParticipants = 10
	cfg.Server.Heartbeat = "5s"
	cfg.Server.LoginTimeout = "10s"
	cfg.Game.AnswerTimeout = "15s"
	cfg.Game.BotDelayMin = "1s"
	cfg.Game.BotDelayMax = "3s"
	cfg.Game.RoundDelay = "1s"
	cfg.Game.Difficulty = "medium"
	cfg.Game.Bots = 3
	cfg.Bank.Dir = "cartones"
	cfg.Bank.TTL = "10m"
	cfg.Redis.TTL = "10m"
	cfg.Log.Level = "info"
	return cfg
}

// Load reads YAML config from path on top of the defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Duration parses a duration string or returns the fallback if empty or invalid.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
