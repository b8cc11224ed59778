package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

const envPrefix = "QRPLAY_LOG_"

// LogConfig is the serialisable form of Config, loaded from JSON or the environment.
type LogConfig struct {
	Level      string          `json:"level"`
	Format     string          `json:"format"`
	Output     string          `json:"output"`
	Components map[string]bool `json:"components"`
	ShowCaller bool            `json:"show_caller"`
	Timestamp  bool            `json:"timestamp"`
	Rotation   *RotationConfig `json:"rotation,omitempty"`
}

// RotationConfig applies to "file:" outputs only.
type RotationConfig struct {
	MaxSize    string `json:"max_size"`    // e.g. "10MB"
	MaxBackups int    `json:"max_backups"` // rotated files to keep
}

// DefaultLogConfig returns default logging configuration
func DefaultLogConfig() *LogConfig {
	def := DefaultConfig()
	components := make(map[string]bool, len(def.Components))
	for c, on := range def.Components {
		components[string(c)] = on
	}
	return &LogConfig{
		Level:      "INFO",
		Format:     "text",
		Output:     "stderr",
		Components: components,
		Timestamp:  def.Timestamp,
	}
}

// LoadConfigFromFile loads configuration from a JSON file
func LoadConfigFromFile(filename string) (*LogConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	config := DefaultLogConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return config, nil
}

// EnvironmentConfig overlays QRPLAY_LOG_* variables on the defaults.
func EnvironmentConfig() *LogConfig {
	return environmentConfig(DefaultLogConfig(), os.Getenv)
}

func environmentConfig(config *LogConfig, getenv func(string) string) *LogConfig {
	if v := getenv(envPrefix + "LEVEL"); v != "" {
		config.Level = v
	}
	if v := getenv(envPrefix + "FORMAT"); v != "" {
		config.Format = v
	}
	if v := getenv(envPrefix + "OUTPUT"); v != "" {
		config.Output = v
	}
	if v := getenv(envPrefix + "CALLER"); v != "" {
		config.ShowCaller = v == "true" || v == "1"
	}
	if v := getenv(envPrefix + "TIMESTAMP"); v != "" {
		config.Timestamp = v == "true" || v == "1"
	}
	if v := getenv(envPrefix + "COMPONENTS"); v != "" {
		config.Components = make(map[string]bool)
		for _, comp := range strings.Split(v, ",") {
			if comp = strings.TrimSpace(comp); comp != "" {
				config.Components[comp] = true
			}
		}
	}
	return config
}

// Validate checks every field without opening outputs.
func (c *LogConfig) Validate() error {
	if _, err := parseLevel(c.Level); err != nil {
		return fmt.Errorf("invalid level: %w", err)
	}
	if _, err := parseFormat(c.Format); err != nil {
		return fmt.Errorf("invalid format: %w", err)
	}
	switch out := strings.ToLower(c.Output); {
	case out == "stdout", out == "stderr", out == "null", out == "none":
	case strings.HasPrefix(c.Output, "file:") && len(c.Output) > len("file:"):
	default:
		return fmt.Errorf("invalid output: %q", c.Output)
	}
	if c.Rotation != nil {
		if _, err := parseSize(c.Rotation.MaxSize); err != nil {
			return fmt.Errorf("invalid max_size: %w", err)
		}
		if c.Rotation.MaxBackups < 0 {
			return fmt.Errorf("max_backups must be non-negative")
		}
	}
	return nil
}

// ToLoggerConfig converts LogConfig to Config, opening file outputs.
func (c *LogConfig) ToLoggerConfig() (*Config, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	level, _ := parseLevel(c.Level)
	format, _ := parseFormat(c.Format)
	output, err := c.openOutput()
	if err != nil {
		return nil, err
	}
	components := make(map[Component]bool, len(c.Components))
	for name, enabled := range c.Components {
		components[Component(name)] = enabled
	}
	return &Config{
		Level:      level,
		Format:     format,
		Output:     output,
		Components: components,
		ShowCaller: c.ShowCaller,
		Timestamp:  c.Timestamp,
	}, nil
}

// CreateLoggerFromConfig creates a logger from LogConfig
func CreateLoggerFromConfig(config *LogConfig) (*Logger, error) {
	loggerConfig, err := config.ToLoggerConfig()
	if err != nil {
		return nil, fmt.Errorf("convert config: %w", err)
	}
	return New(loggerConfig), nil
}

func (c *LogConfig) openOutput() (io.Writer, error) {
	switch strings.ToLower(c.Output) {
	case "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	case "null", "none":
		return io.Discard, nil
	}
	path := strings.TrimPrefix(c.Output, "file:")
	var maxSize int64
	var backups int
	if c.Rotation != nil {
		maxSize, _ = parseSize(c.Rotation.MaxSize)
		backups = c.Rotation.MaxBackups
	}
	return NewRotatingWriter(path, maxSize, backups)
}

func parseLevel(levelStr string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "TRACE":
		return TRACE, nil
	case "DEBUG":
		return DEBUG, nil
	case "INFO", "":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("unknown level: %s", levelStr)
	}
}

func parseFormat(formatStr string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(formatStr)) {
	case "text", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "color", "colored":
		return FormatColor, nil
	default:
		return FormatText, fmt.Errorf("unknown format: %s", formatStr)
	}
}

// parseSize parses "512", "64KB", "10MB", "1GB" into bytes.
func parseSize(sizeStr string) (int64, error) {
	sizeStr = strings.ToUpper(strings.TrimSpace(sizeStr))
	if sizeStr == "" {
		return 0, nil
	}
	i := strings.IndexFunc(sizeStr, func(r rune) bool { return r < '0' || r > '9' })
	numStr, unit := sizeStr, ""
	if i >= 0 {
		numStr, unit = sizeStr[:i], strings.TrimSpace(sizeStr[i:])
	}
	if numStr == "" {
		return 0, fmt.Errorf("no number found in size: %s", sizeStr)
	}
	num, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse number: %w", err)
	}
	switch unit {
	case "", "B":
		return num, nil
	case "KB":
		return num << 10, nil
	case "MB":
		return num << 20, nil
	case "GB":
		return num << 30, nil
	default:
		return 0, fmt.Errorf("unknown unit: %s", unit)
	}
}
