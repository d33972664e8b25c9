// Package config provides configuration management for CortexVoice
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Room      RoomConfig      `mapstructure:"room"`
	User      UserConfig      `mapstructure:"user"`
	Audio     AudioConfig     `mapstructure:"audio"`
	Recorder  RecorderConfig  `mapstructure:"recorder"`
	Assistant AssistantConfig `mapstructure:"assistant"`
	Memory    MemoryConfig    `mapstructure:"memory"`
	Avatar    AvatarConfig    `mapstructure:"avatar"`
	Window    WindowConfig    `mapstructure:"window"`
	Server    ServerConfig    `mapstructure:"server"`
}

// RoomConfig configures the realtime presence connection
type RoomConfig struct {
	ServerURL         string        `mapstructure:"server_url"`
	Channel           string        `mapstructure:"channel"`
	SubscribeTimeout  time.Duration `mapstructure:"subscribe_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	BackoffCap        time.Duration `mapstructure:"backoff_cap"`
	BackoffJitter     time.Duration `mapstructure:"backoff_jitter"`
}

// UserConfig identifies the user announced in presence
type UserConfig struct {
	ID     string `mapstructure:"id"`
	Email  string `mapstructure:"email"`
	Name   string `mapstructure:"name"`
	Avatar string `mapstructure:"avatar"`
}

// AudioConfig configures microphone capture and metering
type AudioConfig struct {
	InputDevice      string  `mapstructure:"input_device"`
	SampleRate       int     `mapstructure:"sample_rate"`
	Channels         int     `mapstructure:"channels"`
	FrameSize        int     `mapstructure:"frame_size"`
	GainBoost        float64 `mapstructure:"gain_boost"`
	EchoCancellation bool    `mapstructure:"echo_cancellation"`
	NoiseSuppression bool    `mapstructure:"noise_suppression"`
	AutoGainControl  bool    `mapstructure:"auto_gain_control"`
	Smoothing        float64 `mapstructure:"smoothing"`
	SilenceThreshold float64 `mapstructure:"silence_threshold"`
}

// RecorderConfig configures clip recording limits
type RecorderConfig struct {
	MinDuration     time.Duration `mapstructure:"min_duration"`
	MinBytes        int           `mapstructure:"min_bytes"`
	MaxDuration     time.Duration `mapstructure:"max_duration"`
	SilenceAutoStop bool          `mapstructure:"silence_auto_stop"`
	SilenceFrames   int           `mapstructure:"silence_frames"`
	SilenceDelay    time.Duration `mapstructure:"silence_delay"`
	MIMEType        string        `mapstructure:"mime_type"`
	TargetBitrate   int           `mapstructure:"target_bitrate"`
}

// AssistantConfig configures clip delivery to the processing endpoint
type AssistantConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Token    string        `mapstructure:"token"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// MemoryConfig configures the conversational memory client
type MemoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`
}

// AvatarConfig configures the avatar state controller
type AvatarConfig struct {
	AssetPath     string        `mapstructure:"asset_path"`
	WatchAsset    bool          `mapstructure:"watch_asset"`
	BlinkInterval time.Duration `mapstructure:"blink_interval"`
	GazeSmoothing float64       `mapstructure:"gaze_smoothing"`
}

// WindowConfig configures the window
type WindowConfig struct {
	Title          string `mapstructure:"title"`
	Width          int    `mapstructure:"width"`
	Height         int    `mapstructure:"height"`
	AlwaysOnTop    bool   `mapstructure:"always_on_top"`
	StartMinimized bool   `mapstructure:"start_minimized"`
}

// ServerConfig configures the roomserver binary
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	RedisAddr      string        `mapstructure:"redis_addr"`
	DatabasePath   string        `mapstructure:"database_path"`
	AuthTokens     []string      `mapstructure:"auth_tokens"`
	UpstreamURL    string        `mapstructure:"upstream_url"`
	HeartbeatGrace time.Duration `mapstructure:"heartbeat_grace"`
	RetentionDays  int           `mapstructure:"retention_days"`
	RetentionCron  string        `mapstructure:"retention_cron"`
	ClipStreamName string        `mapstructure:"clip_stream_name"`
	ClipStreamMax  int64         `mapstructure:"clip_stream_max"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Room: RoomConfig{
			ServerURL:         "http://localhost:8790",
			Channel:           "voice-room",
			SubscribeTimeout:  10 * time.Second,
			HeartbeatInterval: 10 * time.Second,
			MaxAttempts:       100,
			BackoffBase:       1 * time.Second,
			BackoffCap:        30 * time.Second,
			BackoffJitter:     1 * time.Second,
		},
		User: UserConfig{
			ID:     "",
			Email:  "",
			Name:   "Guest",
			Avatar: "",
		},
		Audio: AudioConfig{
			InputDevice:      "",
			SampleRate:       48000,
			Channels:         1,
			FrameSize:        1024,
			GainBoost:        1.5,
			EchoCancellation: true,
			NoiseSuppression: true,
			AutoGainControl:  true,
			Smoothing:        0.7,
			SilenceThreshold: 0.08,
		},
		Recorder: RecorderConfig{
			MinDuration:     500 * time.Millisecond,
			MinBytes:        1000,
			MaxDuration:     60 * time.Second,
			SilenceAutoStop: false,
			SilenceFrames:   25,
			SilenceDelay:    1500 * time.Millisecond,
			MIMEType:        "audio/wav",
			TargetBitrate:   128000,
		},
		Assistant: AssistantConfig{
			Endpoint: "http://localhost:8790/api/voice",
			Token:    "",
			Timeout:  30 * time.Second,
		},
		Memory: MemoryConfig{
			Enabled: true,
			BaseURL: "http://localhost:8790",
			Token:   "",
		},
		Avatar: AvatarConfig{
			AssetPath:     "",
			WatchAsset:    true,
			BlinkInterval: 4 * time.Second,
			GazeSmoothing: 0.15,
		},
		Window: WindowConfig{
			Title:          "CortexVoice",
			Width:          500,
			Height:         700,
			AlwaysOnTop:    false,
			StartMinimized: false,
		},
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8790,
			RedisAddr:      "localhost:6379",
			DatabasePath:   "cortexvoice.db",
			AuthTokens:     nil,
			UpstreamURL:    "",
			HeartbeatGrace: 30 * time.Second,
			RetentionDays:  30,
			RetentionCron:  "0 3 * * *",
			ClipStreamName: "cortexvoice:clips",
			ClipStreamMax:  10000,
		},
	}
}

// Load reads configuration from file and environment
func Load() (*Config, error) {
	cfg := DefaultConfig()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return cfg, err
	}

	configDir := filepath.Join(homeDir, ".cortexvoice")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return cfg, err
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("CORTEXVOICE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, err
		}
		// Config file not found, use defaults and create one
		if err := Save(cfg); err != nil {
			return cfg, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Save writes the configuration to file
func Save(cfg *Config) error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	configDir := filepath.Join(homeDir, ".cortexvoice")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	viper.Set("room", cfg.Room)
	viper.Set("user", cfg.User)
	viper.Set("audio", cfg.Audio)
	viper.Set("recorder", cfg.Recorder)
	viper.Set("assistant", cfg.Assistant)
	viper.Set("memory", cfg.Memory)
	viper.Set("avatar", cfg.Avatar)
	viper.Set("window", cfg.Window)
	viper.Set("server", cfg.Server)

	configPath := filepath.Join(configDir, "config.yaml")
	return viper.WriteConfigAs(configPath)
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".cortexvoice"), nil
}
