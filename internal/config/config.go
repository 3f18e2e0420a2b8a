package config

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/studycircle/internal/logger"
	"gopkg.in/yaml.v3"
)

// loadEnv reads .env outside production only (in containers/prod the config
// comes from real environment variables).
func loadEnv() {
	if os.Getenv("APP_ENV") == "production" {
		return
	}
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for i := 0; i < 5; i++ {
		path := dir + "/.env"
		f, err := os.Open(path)
		if err == nil {
			loadEnvFrom(f)
			f.Close()
			return
		}
		parent := strings.TrimSuffix(dir, "/")
		if idx := strings.LastIndex(parent, "/"); idx <= 0 {
			return
		} else {
			dir = parent[:idx]
			if dir == "" {
				dir = "/"
			}
		}
	}
}

func loadEnvFrom(f *os.File) {
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		if key == "" {
			continue
		}
		if len(val) >= 2 && (val[0] == '"' && val[len(val)-1] == '"' || val[0] == '\'' && val[len(val)-1] == '\'') {
			val = val[1 : len(val)-1]
		}
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// RedisConfig — Redis, used for cross-tab broadcast and persisted client
// preferences. Empty URL disables Redis; both features degrade to in-memory.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// TimingConfig groups the delivery-pipeline timers. Values come from the
// platform defaults and are overridable for tests and slow networks.
type TimingConfig struct {
	TypingIdle      time.Duration `yaml:"-"` // local idle before typing=false
	TypingTTL       time.Duration `yaml:"-"` // remote typing auto-expiry
	PollInterval    time.Duration `yaml:"-"` // notification REST poll
	ReleaseInterval time.Duration `yaml:"-"` // min gap between released toasts
}

// PushConfig — Web Push hand-off for high-priority notifications while no
// surface is focused. Empty SubscriptionsFile disables sending.
type PushConfig struct {
	VAPIDKeysFile     string `yaml:"vapid_keys_file"`
	SubscriptionsFile string `yaml:"subscriptions_file"`
	Subscriber        string `yaml:"subscriber"`
}

// Config holds the bridge settings.
// Priority: environment variables > YAML file > defaults.
type Config struct {
	// HTTP server exposed to local presentation surfaces
	ServerAddr   string        `yaml:"server_addr"`
	ReadTimeout  time.Duration `yaml:"-"`
	WriteTimeout time.Duration `yaml:"-"`
	IdleTimeout  time.Duration `yaml:"-"`

	// Upstream platform
	APIBaseURL string `yaml:"api_base_url"`
	WSURL      string `yaml:"ws_url"`
	AuthToken  string `yaml:"-"` // env only, never in YAML
	UserID     string `yaml:"user_id"`

	// Delivery pipeline
	Timing TimingConfig `yaml:"-"`

	// Suppression/priority tuning. LowPriorityTypes are suppressed while no
	// surface is focused; PriorityClasses override the default class per type.
	LowPriorityTypes []string          `yaml:"low_priority_types"`
	PriorityClasses  map[string]string `yaml:"priority_classes"`

	// Sound cue default when the preference store has no value yet.
	SoundDefault bool `yaml:"sound_default"`

	CORSAllowedOrigins string `yaml:"cors_allowed_origins"`
	LogLevel           string `yaml:"log_level"`

	Redis RedisConfig `yaml:"-"`
	Push  PushConfig  `yaml:"push"`
}

// yamlConfig is the intermediate shape for parsing the bridge YAML.
type yamlConfig struct {
	ServerAddr         string            `yaml:"server_addr"`
	ReadTimeout        int               `yaml:"read_timeout"`
	WriteTimeout       int               `yaml:"write_timeout"`
	IdleTimeout        int               `yaml:"idle_timeout"`
	APIBaseURL         string            `yaml:"api_base_url"`
	WSURL              string            `yaml:"ws_url"`
	UserID             string            `yaml:"user_id"`
	TypingIdleMS       int               `yaml:"typing_idle_ms"`
	TypingTTLMS        int               `yaml:"typing_ttl_ms"`
	PollIntervalSec    int               `yaml:"poll_interval_sec"`
	ReleaseIntervalMS  int               `yaml:"release_interval_ms"`
	LowPriorityTypes   []string          `yaml:"low_priority_types"`
	PriorityClasses    map[string]string `yaml:"priority_classes"`
	SoundDefault       *bool             `yaml:"sound_default"`
	CORSAllowedOrigins string            `yaml:"cors_allowed_origins"`
	LogLevel           string            `yaml:"log_level"`
	Push               PushConfig        `yaml:"push"`
}

// Load loads the configuration. The .env file is applied first (if present),
// then the YAML file, then environment variables (highest priority).
func Load() *Config {
	loadEnv()
	yc := yamlConfig{
		ServerAddr:         ":8090",
		ReadTimeout:        15,
		WriteTimeout:       15,
		IdleTimeout:        60,
		APIBaseURL:         "http://localhost:8080",
		WSURL:              "ws://localhost:8080/ws",
		TypingIdleMS:       2000,
		TypingTTLMS:        3000,
		PollIntervalSec:    30,
		ReleaseIntervalMS:  250,
		LowPriorityTypes:   []string{"like", "comment", "badge", "system"},
		CORSAllowedOrigins: "*",
		LogLevel:           "info",
		Push:               PushConfig{Subscriber: "studycircle-bridge"},
	}

	paths := []string{os.Getenv("CONFIG_PATH"), "config/bridge.yaml"}
	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, &yc); err != nil {
			logger.Errorf("config: parse %s: %v (using defaults)", path, err)
		} else {
			logger.Infof("config: loaded %s", path)
		}
		break
	}

	soundDefault := true
	if yc.SoundDefault != nil {
		soundDefault = *yc.SoundDefault
	}

	cfg := &Config{
		ServerAddr:   envStr("SERVER_ADDR", yc.ServerAddr),
		ReadTimeout:  time.Duration(envInt("READ_TIMEOUT", yc.ReadTimeout)) * time.Second,
		WriteTimeout: time.Duration(envInt("WRITE_TIMEOUT", yc.WriteTimeout)) * time.Second,
		IdleTimeout:  time.Duration(envInt("IDLE_TIMEOUT", yc.IdleTimeout)) * time.Second,
		APIBaseURL:   envStr("API_BASE_URL", yc.APIBaseURL),
		WSURL:        envStr("WS_URL", yc.WSURL),
		AuthToken:    os.Getenv("AUTH_TOKEN"),
		UserID:       envStr("USER_ID", yc.UserID),
		Timing: TimingConfig{
			TypingIdle:      time.Duration(envInt("TYPING_IDLE_MS", yc.TypingIdleMS)) * time.Millisecond,
			TypingTTL:       time.Duration(envInt("TYPING_TTL_MS", yc.TypingTTLMS)) * time.Millisecond,
			PollInterval:    time.Duration(envInt("POLL_INTERVAL_SEC", yc.PollIntervalSec)) * time.Second,
			ReleaseInterval: time.Duration(envInt("RELEASE_INTERVAL_MS", yc.ReleaseIntervalMS)) * time.Millisecond,
		},
		LowPriorityTypes:   yc.LowPriorityTypes,
		PriorityClasses:    yc.PriorityClasses,
		SoundDefault:       soundDefault,
		CORSAllowedOrigins: envStr("CORS_ALLOWED_ORIGINS", yc.CORSAllowedOrigins),
		LogLevel:           envStr("LOG_LEVEL", yc.LogLevel),
		Redis:              RedisConfig{URL: os.Getenv("REDIS_URL")},
		Push: PushConfig{
			VAPIDKeysFile:     envStr("VAPID_KEYS_FILE", yc.Push.VAPIDKeysFile),
			SubscriptionsFile: envStr("PUSH_SUBSCRIPTIONS_FILE", yc.Push.SubscriptionsFile),
			Subscriber:        envStr("PUSH_SUBSCRIBER", yc.Push.Subscriber),
		},
	}

	if os.Getenv("APP_ENV") == "production" {
		if cfg.AuthToken == "" {
			logger.Errorf("config: AUTH_TOKEN is required in production")
			os.Exit(1)
		}
		if cfg.CORSAllowedOrigins == "" || cfg.CORSAllowedOrigins == "*" {
			logger.Errorf("config: set CORS_ALLOWED_ORIGINS in production (explicit origin list, not *)")
		}
	}

	return cfg
}

// envStr returns the environment value or fallback.
func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt returns the numeric environment value or fallback.
func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
