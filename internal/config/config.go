package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type S3 struct {
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type OpenAI struct {
	APIKey       string `mapstructure:"api_key"`
	ChatModel    string `mapstructure:"chat_model"`
	Voice        string `mapstructure:"voice"`
	MaxQuestions int    `mapstructure:"max_questions"`
	Persona      string `mapstructure:"persona"`
}

type Config struct {
	Mode        string `mapstructure:"mode"`
	Port        int    `mapstructure:"port"`
	BackHost    string `mapstructure:"back_host"`
	BackPort    int    `mapstructure:"back_port"`
	MaxSessions int    `mapstructure:"max_sessions"`

	StunURLs []string `mapstructure:"stun_urls"`

	InterviewMaxDuration time.Duration `mapstructure:"interview_max_duration"`
	NoResponseTimeout    time.Duration `mapstructure:"no_response_timeout"`
	MaxRecordingDuration time.Duration `mapstructure:"max_recording_duration"`
	MaxAudioBufferBytes  int           `mapstructure:"max_audio_buffer_bytes"`

	S3     S3     `mapstructure:"s3"`
	OpenAI OpenAI `mapstructure:"openai"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8081)
	v.SetDefault("back_host", "localhost")
	v.SetDefault("back_port", 8080)
	v.SetDefault("max_sessions", 10)
	v.SetDefault("stun_urls", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("interview_max_duration", "30m")
	v.SetDefault("no_response_timeout", "2m")
	v.SetDefault("max_recording_duration", "3m")
	v.SetDefault("max_audio_buffer_bytes", 18*1024*1024)
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.prefix", "interviews")
	v.SetDefault("s3.use_ssl", true)
	v.SetDefault("openai.chat_model", "gpt-4o")
	v.SetDefault("openai.voice", "alloy")
	v.SetDefault("openai.max_questions", 5)
	v.SetDefault("openai.persona", "You are a friendly technical interviewer conducting a mock interview.")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	// Secrets come from the environment, never from the config file.
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		v.Set("openai.api_key", key)
	}
	if key := os.Getenv("S3_ACCESS_KEY"); key != "" {
		v.Set("s3.access_key", key)
	}
	if key := os.Getenv("S3_SECRET_KEY"); key != "" {
		v.Set("s3.secret_key", key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Signal: %s:%d | Sessions: %d\n",
		cfg.Mode, cfg.Port, cfg.BackHost, cfg.BackPort, cfg.MaxSessions)
	return &cfg, nil
}
