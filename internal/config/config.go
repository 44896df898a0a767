// Copyright (c) 2024-2026 SunstanYu
// Author: Sunstan Yu <yu.sunstan@gmail.com>
//
// Licensed under GPL-2.0.
// See LICENSE.md for details.

package internal_config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// AppConfig is the full application configuration. Everything is resolvable
// from environment variables; an optional .env file supplies local overrides.
type AppConfig struct {
	Name     string `mapstructure:"service_name" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"required"`
	LogPath  string `mapstructure:"log_path"`

	// Audio capture
	WakeWord       string  `mapstructure:"wake_word" validate:"required"`
	SampleRate     int     `mapstructure:"audio_sample_rate" validate:"required"`
	BlockSize      int     `mapstructure:"audio_block_size" validate:"required"`
	VolumeGain     float64 `mapstructure:"audio_volume_gain"`
	DeviceIndex    int     `mapstructure:"audio_device_index"`
	VADModelPath   string  `mapstructure:"vad_model_path"`
	WakeModelPath  string  `mapstructure:"wake_model_path"`
	ASRResultFile  string  `mapstructure:"asr_result_file"`
	GoogleCredPath string  `mapstructure:"google_credentials_path"`

	// Google Cloud
	GoogleProjectID string `mapstructure:"google_project_id" validate:"required"`

	// Chat LLM
	LLMAPIKey string `mapstructure:"llm_api_key"`
	LLMAPIURL string `mapstructure:"llm_api_url" validate:"required"`
	LLMModel  string `mapstructure:"llm_model" validate:"required"`

	// Music
	MusicAPIKey string `mapstructure:"music_api_key"`

	// Weather
	WeatherAPIKey   string `mapstructure:"weather_api_key"`
	WeatherLocation string `mapstructure:"weather_location"`

	// Call signaling
	SignalingHost string `mapstructure:"signaling_host" validate:"required"`
	SignalingPort int    `mapstructure:"signaling_port" validate:"required"`
	TLSCertFile   string `mapstructure:"tls_cert_file"`
	TLSKeyFile    string `mapstructure:"tls_key_file"`

	// Filesystem layout
	ResourceDir string `mapstructure:"resource_dir" validate:"required"`
	TempDir     string `mapstructure:"temp_dir" validate:"required"`
}

// InitConfig reads configuration from the environment (and ENV_PATH file when
// present) and applies defaults.
func InitConfig() (*viper.Viper, error) {
	vConfig := viper.NewWithOptions(viper.KeyDelimiter("__"))

	vConfig.AddConfigPath(".")
	vConfig.SetConfigName(".env")
	if path := os.Getenv("ENV_PATH"); path != "" {
		vConfig.SetConfigFile(path)
	}
	vConfig.SetConfigType("env")
	vConfig.AutomaticEnv()

	setDefault(vConfig)
	if err := vConfig.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		// No .env file is fine; environment variables carry the config.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return vConfig, nil
}

func setDefault(v *viper.Viper) {
	v.SetDefault("SERVICE_NAME", "magic-mirror")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PATH", "")

	v.SetDefault("WAKE_WORD", "hello")
	v.SetDefault("AUDIO_SAMPLE_RATE", 16000)
	v.SetDefault("AUDIO_BLOCK_SIZE", 8000)
	v.SetDefault("AUDIO_VOLUME_GAIN", 10.0)
	v.SetDefault("AUDIO_DEVICE_INDEX", -1)
	v.SetDefault("VAD_MODEL_PATH", "")
	v.SetDefault("WAKE_MODEL_PATH", "")
	v.SetDefault("ASR_RESULT_FILE", "temp/asr_result.txt")
	v.SetDefault("GOOGLE_CREDENTIALS_PATH", "")
	v.SetDefault("GOOGLE_PROJECT_ID", "magic-mirror")

	v.SetDefault("LLM_API_KEY", "")
	v.SetDefault("LLM_API_URL", "https://api.openai.com/v1/chat/completions")
	v.SetDefault("LLM_MODEL", "gpt-4o-mini")

	v.SetDefault("MUSIC_API_KEY", "")

	v.SetDefault("WEATHER_API_KEY", "")
	v.SetDefault("WEATHER_LOCATION", "Ithaca,NY")

	v.SetDefault("SIGNALING_HOST", "0.0.0.0")
	v.SetDefault("SIGNALING_PORT", 8080)
	v.SetDefault("TLS_CERT_FILE", "")
	v.SetDefault("TLS_KEY_FILE", "")

	v.SetDefault("RESOURCE_DIR", "resources")
	v.SetDefault("TEMP_DIR", "temp")
}

// GetApplicationConfig unmarshals and validates the application config.
func GetApplicationConfig(v *viper.Viper) (*AppConfig, error) {
	var config AppConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// TempAudioDir is the directory TTS output and the news double buffer
// are written to.
func (c *AppConfig) TempAudioDir() string {
	return filepath.Join(c.TempDir, "audio")
}

// PresetMusicDir is the directory preset background music lives in.
func (c *AppConfig) PresetMusicDir() string {
	return filepath.Join(c.ResourceDir, "bgm")
}
