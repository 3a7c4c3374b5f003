package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Interval rule modes.
const (
	IntervalModeAtMost = "at_most"
	IntervalModeExact  = "exact"
)

// Config captures the settings required to run detection pipelines and serve them.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Features   FeaturesConfig   `yaml:"features"`
	Rules      RulesConfig      `yaml:"rules"`
	Evaluation EvaluationConfig `yaml:"evaluation"`
	Capture    CaptureConfig    `yaml:"capture"`
	Sinks      SinksConfig      `yaml:"sinks"`
	History    HistoryConfig    `yaml:"history"`
}

// ServerConfig controls gRPC, HTTP and metrics listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	HTTPAddress     string        `yaml:"httpAddress"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// IngestConfig lists the default shard sources of a run. API callers may only
// name these sources or files below DataRoot.
type IngestConfig struct {
	Sources  []string `yaml:"sources"`
	DataRoot string   `yaml:"dataRoot"`
}

// FeaturesConfig parameterises the derived views.
type FeaturesConfig struct {
	BucketWidth     time.Duration `yaml:"bucketWidth"`
	SmoothWindow    int           `yaml:"smoothWindow"`
	TopDestinations int           `yaml:"topDestinations"`
	PacketSizeCap   uint64        `yaml:"packetSizeCap"`
	HistogramBins   int           `yaml:"histogramBins"`
}

// RulesConfig controls rule-pack loading and the built-in rule defaults.
type RulesConfig struct {
	Path              string                  `yaml:"path"`
	HighVolume        HighVolumeConfig        `yaml:"highVolume"`
	RepeatedInterval  RepeatedIntervalConfig  `yaml:"repeatedInterval"`
	FrequentRequester FrequentRequesterConfig `yaml:"frequentRequester"`
}

// HighVolumeConfig flags records larger than Threshold bytes.
type HighVolumeConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Threshold float64 `yaml:"threshold"`
}

// RepeatedIntervalConfig flags records whose inter-arrival time matches Threshold per Mode.
type RepeatedIntervalConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Threshold float64 `yaml:"threshold"`
	Mode      string  `yaml:"mode"`
}

// FrequentRequesterConfig flags sources exceeding Threshold records per Bucket.
type FrequentRequesterConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Threshold float64       `yaml:"threshold"`
	Bucket    time.Duration `yaml:"bucket"`
}

// EvaluationConfig controls aggregation of verdicts.
type EvaluationConfig struct {
	IncludeGroupRules bool    `yaml:"includeGroupRules"`
	ProxyFactor       float64 `yaml:"proxyFactor"`
	RequireLabels     bool    `yaml:"requireLabels"`
}

// CaptureConfig controls pcap shard extraction.
type CaptureConfig struct {
	MinFrameLength int    `yaml:"minFrameLength"`
	SampleRate     int    `yaml:"sampleRate"`
	C2Address      string `yaml:"c2Address"`
	OutputDir      string `yaml:"outputDir"`
}

// SinksConfig groups result destinations.
type SinksConfig struct {
	File       FileSinkConfig       `yaml:"file"`
	ClickHouse ClickHouseSinkConfig `yaml:"clickhouse"`
	NATS       NATSSinkConfig       `yaml:"nats"`
}

// FileSinkConfig writes CSV and JSON artifacts under OutputDir.
type FileSinkConfig struct {
	Enabled   bool   `yaml:"enabled"`
	OutputDir string `yaml:"outputDir"`
}

// ClickHouseSinkConfig stores summaries and flagged records in ClickHouse.
type ClickHouseSinkConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Addr        []string      `yaml:"addr"`
	Database    string        `yaml:"database"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	DialTimeout time.Duration `yaml:"dialTimeout"`
}

// NATSSinkConfig publishes run summaries on a subject.
type NATSSinkConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// HistoryConfig bounds the in-memory run history served by the APIs.
type HistoryConfig struct {
	MaxRuns int `yaml:"maxRuns"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_BOTNET_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration without reading files or environment.
func Default() *Config {
	cfg := defaultConfig()
	return &cfg
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50051",
			HTTPAddress:     ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Features: FeaturesConfig{
			BucketWidth:     time.Minute,
			SmoothWindow:    5,
			TopDestinations: 10,
			PacketSizeCap:   2000,
			HistogramBins:   50,
		},
		Rules: RulesConfig{
			Path:              "configs/rules/default.yaml",
			HighVolume:        HighVolumeConfig{Enabled: true, Threshold: 1000},
			RepeatedInterval:  RepeatedIntervalConfig{Enabled: true, Threshold: 0.05, Mode: IntervalModeAtMost},
			FrequentRequester: FrequentRequesterConfig{Enabled: true, Threshold: 5, Bucket: time.Second},
		},
		Evaluation: EvaluationConfig{ProxyFactor: 0.1},
		Capture: CaptureConfig{
			MinFrameLength: 100,
			SampleRate:     10,
			OutputDir:      "data/shards",
		},
		Sinks: SinksConfig{
			File: FileSinkConfig{Enabled: true, OutputDir: "results"},
			ClickHouse: ClickHouseSinkConfig{
				Addr:        []string{"localhost:9000"},
				Database:    "default",
				Username:    "default",
				DialTimeout: 5 * time.Second,
			},
			NATS: NATSSinkConfig{
				URL:     "nats://localhost:4222",
				Subject: "mirador.botnet.runs",
			},
		},
		History: HistoryConfig{MaxRuns: 64},
	}
}

// Validate rejects configurations that would make rules or views ill-defined.
func (c *Config) Validate() error {
	if c.Features.BucketWidth <= 0 {
		return fmt.Errorf("features.bucketWidth must be positive, got %s", c.Features.BucketWidth)
	}
	if c.Features.SmoothWindow < 1 {
		return fmt.Errorf("features.smoothWindow must be >= 1, got %d", c.Features.SmoothWindow)
	}
	if c.Features.HistogramBins < 1 {
		return fmt.Errorf("features.histogramBins must be >= 1, got %d", c.Features.HistogramBins)
	}
	if c.Rules.HighVolume.Threshold < 0 || c.Rules.RepeatedInterval.Threshold < 0 || c.Rules.FrequentRequester.Threshold < 0 {
		return errors.New("rule thresholds must be non-negative")
	}
	if err := ValidateIntervalMode(c.Rules.RepeatedInterval.Mode); err != nil {
		return err
	}
	if c.Rules.FrequentRequester.Bucket <= 0 {
		return fmt.Errorf("rules.frequentRequester.bucket must be positive, got %s", c.Rules.FrequentRequester.Bucket)
	}
	if c.Evaluation.ProxyFactor < 0 {
		return fmt.Errorf("evaluation.proxyFactor must be non-negative, got %v", c.Evaluation.ProxyFactor)
	}
	if c.Capture.SampleRate < 1 {
		return fmt.Errorf("capture.sampleRate must be >= 1, got %d", c.Capture.SampleRate)
	}
	return nil
}

// ValidateIntervalMode accepts only the documented interval rule modes.
func ValidateIntervalMode(mode string) error {
	switch mode {
	case IntervalModeAtMost, IntervalModeExact:
		return nil
	default:
		return fmt.Errorf("unknown interval mode %q (want %q or %q)", mode, IntervalModeAtMost, IntervalModeExact)
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_BOTNET_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MIRADOR_BOTNET_HTTP_ADDRESS"); v != "" {
		cfg.Server.HTTPAddress = v
	}
	if v := os.Getenv("MIRADOR_BOTNET_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("MIRADOR_BOTNET_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MIRADOR_BOTNET_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("MIRADOR_BOTNET_SOURCES"); v != "" {
		cfg.Ingest.Sources = splitList(v)
	}
	if v := os.Getenv("MIRADOR_BOTNET_DATA_ROOT"); v != "" {
		cfg.Ingest.DataRoot = v
	}
	if v := os.Getenv("MIRADOR_BOTNET_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("MIRADOR_BOTNET_SIZE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Rules.HighVolume.Threshold = f
		}
	}
	if v := os.Getenv("MIRADOR_BOTNET_INTERVAL_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Rules.RepeatedInterval.Threshold = f
		}
	}
	if v := os.Getenv("MIRADOR_BOTNET_INTERVAL_MODE"); v != "" {
		cfg.Rules.RepeatedInterval.Mode = v
	}
	if v := os.Getenv("MIRADOR_BOTNET_REQUEST_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Rules.FrequentRequester.Threshold = f
		}
	}
	if v := os.Getenv("MIRADOR_BOTNET_INCLUDE_GROUP_RULES"); v != "" {
		cfg.Evaluation.IncludeGroupRules = parseBool(v)
	}
	if v := os.Getenv("MIRADOR_BOTNET_REQUIRE_LABELS"); v != "" {
		cfg.Evaluation.RequireLabels = parseBool(v)
	}
	if v := os.Getenv("MIRADOR_BOTNET_OUTPUT_DIR"); v != "" {
		cfg.Sinks.File.OutputDir = v
	}
	if v := os.Getenv("MIRADOR_BOTNET_CLICKHOUSE_ENABLED"); v != "" {
		cfg.Sinks.ClickHouse.Enabled = parseBool(v)
	}
	if v := os.Getenv("MIRADOR_BOTNET_CLICKHOUSE_ADDR"); v != "" {
		cfg.Sinks.ClickHouse.Addr = splitList(v)
	}
	if v := os.Getenv("MIRADOR_BOTNET_CLICKHOUSE_PASSWORD"); v != "" {
		cfg.Sinks.ClickHouse.Password = v
	}
	if v := os.Getenv("MIRADOR_BOTNET_NATS_ENABLED"); v != "" {
		cfg.Sinks.NATS.Enabled = parseBool(v)
	}
	if v := os.Getenv("MIRADOR_BOTNET_NATS_URL"); v != "" {
		cfg.Sinks.NATS.URL = v
	}
	if v := os.Getenv("MIRADOR_BOTNET_HISTORY_MAX_RUNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.History.MaxRuns = n
		}
	}
}

func parseBool(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
