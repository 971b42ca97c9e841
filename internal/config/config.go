package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel         string  `yaml:"log_level"`
	OTLPEndpoint     string  `yaml:"otlp_endpoint"`
	OTLPInsecure     bool    `yaml:"otlp_insecure"`
	PrometheusBind   string  `yaml:"prometheus_bind"`
	TraceExporter    string  `yaml:"trace_exporter"` // auto, otlp, stdout, none
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Challenges  ChallengesConfig `yaml:"challenges"`
	Coach       CoachConfig      `yaml:"coach"`
	Alerts      AlertsConfig     `yaml:"alerts"`
	Upstream    UpstreamConfig   `yaml:"upstream"`
	Cache       CacheConfig      `yaml:"cache"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// ChallengesConfig points at an optional catalog file (.yaml, .yml or .toml).
type ChallengesConfig struct {
	Path           string `yaml:"path"`
	IncludeBuiltin bool   `yaml:"include_builtin"`
}

type CoachConfig struct {
	TickIntervalMS int      `yaml:"tick_interval_ms"`
	SlowBelowWPM   int      `yaml:"slow_below_wpm"`
	FastAboveWPM   int      `yaml:"fast_above_wpm"`
	AlertMode      string   `yaml:"alert_mode"` // level, edge
	Fillers        []string `yaml:"fillers"`
	QueueSize      int      `yaml:"queue_size"`
	MaxSessions    int      `yaml:"max_sessions"`
	STTBridge      bool     `yaml:"stt_bridge"`
	NarrateVoice   string   `yaml:"narrate_voice"`
}

type AlertsConfig struct {
	Log         bool   `yaml:"log"`
	Bus         bool   `yaml:"bus"`
	ExecCommand string `yaml:"exec_command"`
	ExecTimeout int    `yaml:"exec_timeout_ms"`
}

type UpstreamConfig struct {
	Enabled          bool `yaml:"enabled"`
	HeartbeatTimeout int  `yaml:"heartbeat_timeout_ms"`
	CheckInterval    int  `yaml:"check_interval_ms"`
}

type CacheConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	KeyPrefix  string `yaml:"key_prefix"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-coach",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind:   ":9091",
			TraceExporter:    "auto",
			TraceSampleRatio: 1,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/coach-events.db",
			RetentionMode: "ephemeral",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Challenges: ChallengesConfig{
			IncludeBuiltin: true,
		},
		Coach: CoachConfig{
			TickIntervalMS: 1000,
			SlowBelowWPM:   120,
			FastAboveWPM:   160,
			AlertMode:      "level",
			QueueSize:      64,
			MaxSessions:    1024,
			STTBridge:      false,
			NarrateVoice:   "en-US",
		},
		Alerts: AlertsConfig{
			Log:         true,
			Bus:         true,
			ExecTimeout: 2000,
		},
		Upstream: UpstreamConfig{
			Enabled:          true,
			HeartbeatTimeout: 5000,
			CheckInterval:    1000,
		},
		Cache: CacheConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			KeyPrefix:  "coach",
			TTLSeconds: 3600,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "COACH_RUNTIME_NAME")
	overrideString(&cfg.Environment, "COACH_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "COACH_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "COACH_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "COACH_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "COACH_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "COACH_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "COACH_TELEMETRY_PROMETHEUS_BIND")
	overrideString(&cfg.Telemetry.TraceExporter, "COACH_TELEMETRY_TRACE_EXPORTER")
	overrideFloat(&cfg.Telemetry.TraceSampleRatio, "COACH_TELEMETRY_TRACE_SAMPLE_RATIO")
	overrideBool(&cfg.Bus.Embedded, "COACH_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "COACH_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "COACH_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "COACH_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "COACH_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "COACH_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "COACH_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "COACH_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "COACH_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "COACH_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "COACH_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "COACH_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "COACH_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "COACH_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Challenges.Path, "COACH_CHALLENGES_PATH")
	overrideBool(&cfg.Challenges.IncludeBuiltin, "COACH_CHALLENGES_INCLUDE_BUILTIN")
	overrideInt(&cfg.Coach.TickIntervalMS, "COACH_TICK_INTERVAL_MS")
	overrideInt(&cfg.Coach.SlowBelowWPM, "COACH_SLOW_BELOW_WPM")
	overrideInt(&cfg.Coach.FastAboveWPM, "COACH_FAST_ABOVE_WPM")
	overrideString(&cfg.Coach.AlertMode, "COACH_ALERT_MODE")
	overrideStringSlice(&cfg.Coach.Fillers, "COACH_FILLERS")
	overrideInt(&cfg.Coach.QueueSize, "COACH_QUEUE_SIZE")
	overrideInt(&cfg.Coach.MaxSessions, "COACH_MAX_SESSIONS")
	overrideBool(&cfg.Coach.STTBridge, "COACH_STT_BRIDGE")
	overrideString(&cfg.Coach.NarrateVoice, "COACH_NARRATE_VOICE")
	overrideBool(&cfg.Alerts.Log, "COACH_ALERTS_LOG")
	overrideBool(&cfg.Alerts.Bus, "COACH_ALERTS_BUS")
	overrideString(&cfg.Alerts.ExecCommand, "COACH_ALERTS_EXEC_COMMAND")
	overrideInt(&cfg.Alerts.ExecTimeout, "COACH_ALERTS_EXEC_TIMEOUT_MS")
	overrideBool(&cfg.Upstream.Enabled, "COACH_UPSTREAM_ENABLED")
	overrideInt(&cfg.Upstream.HeartbeatTimeout, "COACH_UPSTREAM_HEARTBEAT_TIMEOUT_MS")
	overrideInt(&cfg.Upstream.CheckInterval, "COACH_UPSTREAM_CHECK_INTERVAL_MS")
	overrideBool(&cfg.Cache.Enabled, "COACH_CACHE_ENABLED")
	overrideString(&cfg.Cache.Addr, "COACH_CACHE_ADDR")
	overrideString(&cfg.Cache.Password, "COACH_CACHE_PASSWORD")
	overrideInt(&cfg.Cache.DB, "COACH_CACHE_DB")
	overrideString(&cfg.Cache.KeyPrefix, "COACH_CACHE_KEY_PREFIX")
	overrideInt(&cfg.Cache.TTLSeconds, "COACH_CACHE_TTL_SECONDS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionMode != "ephemeral" && cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	switch cfg.Telemetry.TraceExporter {
	case "auto", "stdout", "none":
	case "otlp":
		if strings.TrimSpace(cfg.Telemetry.OTLPEndpoint) == "" {
			return errors.New("telemetry.otlp_endpoint must be set when trace_exporter is otlp")
		}
	default:
		return errors.New("telemetry.trace_exporter must be one of auto|otlp|stdout|none")
	}
	if cfg.Telemetry.TraceSampleRatio < 0 || cfg.Telemetry.TraceSampleRatio > 1 {
		return errors.New("telemetry.trace_sample_ratio must be between 0 and 1")
	}
	if !cfg.Challenges.IncludeBuiltin && cfg.Challenges.Path == "" {
		return errors.New("challenges.path must be set when built-in challenges are disabled")
	}
	if cfg.Coach.TickIntervalMS <= 0 {
		return errors.New("coach.tick_interval_ms must be positive")
	}
	if cfg.Coach.SlowBelowWPM <= 0 {
		return errors.New("coach.slow_below_wpm must be positive")
	}
	if cfg.Coach.FastAboveWPM < cfg.Coach.SlowBelowWPM {
		return errors.New("coach.fast_above_wpm must be >= coach.slow_below_wpm")
	}
	switch cfg.Coach.AlertMode {
	case "level", "edge":
	default:
		return errors.New("coach.alert_mode must be one of level|edge")
	}
	if cfg.Coach.QueueSize <= 0 {
		return errors.New("coach.queue_size must be >= 1")
	}
	if cfg.Coach.MaxSessions <= 0 {
		return errors.New("coach.max_sessions must be >= 1")
	}
	if cfg.Alerts.ExecCommand != "" && cfg.Alerts.ExecTimeout <= 0 {
		return errors.New("alerts.exec_timeout_ms must be positive when exec_command is set")
	}
	if cfg.Upstream.Enabled {
		if cfg.Upstream.CheckInterval <= 0 {
			return errors.New("upstream.check_interval_ms must be positive")
		}
		if cfg.Upstream.HeartbeatTimeout <= cfg.Upstream.CheckInterval {
			return errors.New("upstream.heartbeat_timeout_ms must be greater than check interval")
		}
	}
	if cfg.Cache.Enabled {
		if cfg.Cache.Addr == "" {
			return errors.New("cache.addr must be set when the cache is enabled")
		}
		if cfg.Cache.TTLSeconds <= 0 {
			return errors.New("cache.ttl_seconds must be positive")
		}
	}
	return nil
}
