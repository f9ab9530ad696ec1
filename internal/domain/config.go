package domain

import "time"

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Downloads    DownloadsConfig    `mapstructure:"downloads"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Network      NetworkConfig      `mapstructure:"network"`
	Engine       EngineConfig       `mapstructure:"engine"`
	Binary       BinaryConfig       `mapstructure:"binary"`
	Notification NotificationConfig `mapstructure:"notification"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"` // empty allows any
}

// DownloadsConfig contains the registry configuration
type DownloadsConfig struct {
	Disabled          bool          `mapstructure:"disabled"`
	UserRequired      bool          `mapstructure:"user_required"`
	DownloadJustWifi  bool          `mapstructure:"download_just_wifi"`
	LogKey            string        `mapstructure:"log_key"`
	Platform          Platform      `mapstructure:"platform"`
	BinaryEnabled     bool          `mapstructure:"binary_enabled"`
	RootDir           string        `mapstructure:"root_dir"`
	BinaryDir         string        `mapstructure:"binary_dir"`
	ManagedSubdir     string        `mapstructure:"managed_subdir"` // ios only
	NativeCallTimeout time.Duration `mapstructure:"native_call_timeout"`
	EventBuffer       int           `mapstructure:"event_buffer"`
}

// InitOptions returns the options the registry is initialized with
func (c DownloadsConfig) InitOptions() InitOptions {
	return InitOptions{
		Disabled:         c.Disabled,
		UserRequired:     c.UserRequired,
		DownloadJustWifi: c.DownloadJustWifi,
		LogKey:           c.LogKey,
	}
}

// InitOptions is the initialization input of the registry
type InitOptions struct {
	Disabled         bool   `json:"disabled,omitempty"`
	UserRequired     bool   `json:"user_required,omitempty"`
	DownloadJustWifi bool   `json:"download_just_wifi,omitempty"`
	LogKey           string `json:"log_key,omitempty"`
}

// StorageConfig contains persistence configuration
type StorageConfig struct {
	DatabasePath string `mapstructure:"database_path"`
}

// NetworkConfig contains connectivity probing configuration
type NetworkConfig struct {
	ProbeAddress string        `mapstructure:"probe_address"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	TypeOverride string        `mapstructure:"type_override"` // wifi, cellular, ethernet
}

// EngineConfig contains the stream engine configuration
type EngineConfig struct {
	Binary    string   `mapstructure:"binary"`
	ExtraArgs []string `mapstructure:"extra_args"`
	OutputDir string   `mapstructure:"output_dir"`
}

// BinaryConfig contains the binary download engine configuration
type BinaryConfig struct {
	ProgressIntervalBytes int64  `mapstructure:"progress_interval_bytes"`
	UserAgent             string `mapstructure:"user_agent"`
}

// NotificationConfig contains notification-related configuration
type NotificationConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Sound   bool   `mapstructure:"sound"`
	Method  string `mapstructure:"method"` // osascript, notify-send, etc.
}

// LoggingConfig contains logging-related configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, or file path
	LogsDir    string `mapstructure:"logs_dir"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8090,
		},
		Downloads: DownloadsConfig{
			Disabled:          false,
			UserRequired:      true,
			DownloadJustWifi:  true,
			LogKey:            "[Downloads]",
			Platform:          PlatformAndroid,
			BinaryEnabled:     true,
			RootDir:           "$HOME/.offline-downloads/media",
			BinaryDir:         "$HOME/.offline-downloads/media/audio",
			ManagedSubdir:     "com.apple.UserManagedAssets",
			NativeCallTimeout: 30 * time.Second,
			EventBuffer:       256,
		},
		Storage: StorageConfig{
			DatabasePath: "$HOME/.offline-downloads/downloads.db",
		},
		Network: NetworkConfig{
			ProbeAddress: "1.1.1.1:443",
			ProbeTimeout: 3 * time.Second,
			PollInterval: 15 * time.Second,
		},
		Engine: EngineConfig{
			Binary:    "yt-dlp",
			OutputDir: "$HOME/.offline-downloads/media/streams",
		},
		Binary: BinaryConfig{
			ProgressIntervalBytes: 1 << 20,
			UserAgent:             "offline-downloads/1.0",
		},
		Notification: NotificationConfig{
			Enabled: true,
			Sound:   true,
			Method:  "osascript",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			OutputPath: "stdout",
			LogsDir:    "$HOME/.offline-downloads/logs",
		},
	}
}
