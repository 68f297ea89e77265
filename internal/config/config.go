// Package config loads the assistant's process configuration via viper:
// a YAML/JSON file, VERDURE_-prefixed environment overrides, and defaults
// for everything the spec leaves as an open question around timeouts.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ServerEntry is one saved conversational server endpoint.
type ServerEntry struct {
	Name string `mapstructure:"name"`
	Addr string `mapstructure:"addr"`
}

// Config holds every tunable the assistant reads at startup.
type Config struct {
	Transport string `mapstructure:"transport"` // "websocket" | "mqtt"
	ServerAddr string `mapstructure:"server_addr"`
	Servers   []ServerEntry `mapstructure:"servers"`

	SampleRate   int `mapstructure:"sample_rate"`
	Channels     int `mapstructure:"channels"`
	FrameDurMs   int `mapstructure:"frame_duration_ms"`
	OpusBitrate  int `mapstructure:"opus_bitrate_kbps"`

	ListeningMode   string `mapstructure:"listening_mode"` // "AlwaysOn" | "PushToTalk" | "Keyword"
	KeywordModel    string `mapstructure:"keyword_model"`
	// KeepListening re-arms Listening after a short delay on turn end instead
	// of falling back to wake-word gating, for a continuous-conversation mode.
	// It has no effect when ListeningMode is "PushToTalk".
	KeepListening bool `mapstructure:"keep_listening"`

	InputVolume  float64 `mapstructure:"input_volume"`
	OutputVolume float64 `mapstructure:"output_volume"`
	NoiseGateEnabled bool `mapstructure:"noise_gate_enabled"`

	// Timeouts, all left as Open Questions by the spec and so exposed here
	// with the spec's own suggested values as defaults.
	HelloTimeoutMs      int `mapstructure:"hello_timeout_ms"`
	MCPRequestTimeoutMs int `mapstructure:"mcp_request_timeout_ms"`
	PlaybackEOSTimeoutMs int `mapstructure:"playback_eos_timeout_ms"`
}

// Load reads configuration from (in ascending priority) built-in defaults,
// a config file named "verdure" found on the search path, and VERDURE_*
// environment variables.
func Load(configPaths ...string) (Config, error) {
	v := viper.New()
	v.SetConfigName("verdure")
	v.SetConfigType("yaml")
	for _, p := range configPaths {
		v.AddConfigPath(p)
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("VERDURE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("transport", "websocket")
	v.SetDefault("server_addr", "localhost:8443")
	v.SetDefault("servers", []map[string]string{{"name": "Local Dev", "addr": "localhost:8443"}})

	v.SetDefault("sample_rate", 16000)
	v.SetDefault("channels", 1)
	v.SetDefault("frame_duration_ms", 60)
	v.SetDefault("opus_bitrate_kbps", 24)

	v.SetDefault("listening_mode", "Keyword")
	v.SetDefault("keyword_model", "default")
	v.SetDefault("keep_listening", false)

	v.SetDefault("input_volume", 1.0)
	v.SetDefault("output_volume", 1.0)
	v.SetDefault("noise_gate_enabled", true)

	v.SetDefault("hello_timeout_ms", 5000)
	v.SetDefault("mcp_request_timeout_ms", 10000)
	v.SetDefault("playback_eos_timeout_ms", 1500)
}
