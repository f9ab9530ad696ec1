package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"github.com/yourusername/offline-downloads-go/internal/domain"
)

// LoadConfig loads configuration from file and environment
func LoadConfig(configPath string) (*domain.Config, error) {
	config := domain.DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.offline-downloads")
		v.AddConfigPath("/etc/offline-downloads")
	}

	v.SetEnvPrefix("OFFLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config = expandPaths(config)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// bindEnv registers the keys AutomaticEnv should resolve even when the
// config file does not mention them
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"server.host", "server.port",
		"downloads.disabled", "downloads.user_required", "downloads.download_just_wifi",
		"downloads.log_key", "downloads.platform", "downloads.binary_enabled",
		"downloads.root_dir", "downloads.binary_dir", "downloads.native_call_timeout",
		"storage.database_path",
		"network.probe_address", "network.poll_interval", "network.type_override",
		"engine.binary", "engine.output_dir",
		"notification.enabled", "notification.method",
		"logging.level", "logging.format", "logging.output_path", "logging.logs_dir",
	} {
		v.BindEnv(key)
	}
}

// expandPaths expands environment variables in path configurations
func expandPaths(config *domain.Config) *domain.Config {
	config.Downloads.RootDir = expandPath(config.Downloads.RootDir)
	config.Downloads.BinaryDir = expandPath(config.Downloads.BinaryDir)
	config.Storage.DatabasePath = expandPath(config.Storage.DatabasePath)
	config.Engine.OutputDir = expandPath(config.Engine.OutputDir)
	config.Logging.LogsDir = expandPath(config.Logging.LogsDir)

	if config.Logging.OutputPath != "stdout" && config.Logging.OutputPath != "stderr" {
		config.Logging.OutputPath = expandPath(config.Logging.OutputPath)
	}

	return config
}

// expandPath expands environment variables and ~ in paths
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	if strings.Contains(path, "$HOME") && os.Getenv("HOME") == "" {
		if home, err := os.UserHomeDir(); err == nil {
			path = strings.ReplaceAll(path, "$HOME", home)
		}
	}
	return os.ExpandEnv(path)
}

// validateConfig validates the configuration
func validateConfig(config *domain.Config) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if !domain.ValidatePlatform(config.Downloads.Platform) {
		return fmt.Errorf("invalid platform: %s", config.Downloads.Platform)
	}

	if config.Downloads.RootDir == "" {
		return fmt.Errorf("downloads root directory not configured")
	}

	if config.Downloads.BinaryEnabled && config.Downloads.BinaryDir == "" {
		return fmt.Errorf("binary downloads enabled but binary_dir not configured")
	}

	if config.Downloads.NativeCallTimeout < 0 {
		return fmt.Errorf("native call timeout cannot be negative")
	}

	if config.Downloads.EventBuffer < 1 {
		return fmt.Errorf("event buffer must be at least 1")
	}

	if config.Storage.DatabasePath == "" {
		return fmt.Errorf("storage database path not configured")
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}

	return nil
}

// SaveConfig saves configuration to file
func SaveConfig(config *domain.Config, path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	var settings map[string]interface{}
	if err := mapstructure.Decode(config, &settings); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	for key, value := range settings {
		v.Set(key, value)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
