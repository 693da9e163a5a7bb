package config

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Timeplus TimeplusConfig `mapstructure:"timeplus"`
}

// ServerConfig holds the HTTP server configuration
type ServerConfig struct {
	Port            string `mapstructure:"port"`
	AllowedOrigins  string `mapstructure:"allowedOrigins"`
	ShutdownTimeout int    `mapstructure:"shutdownTimeout"`
}

// EngineConfig holds the escalation engine configuration
type EngineConfig struct {
	// WorkspaceID scopes the rules, records and users this instance
	// evaluates.
	WorkspaceID string `mapstructure:"workspaceId"`
	// PollIntervalSeconds is the evaluation pass cadence. Zero disables
	// the background loop; passes then run only on demand.
	PollIntervalSeconds int `mapstructure:"pollIntervalSeconds"`
	// CandidateLimit caps the records a single rule evaluates per pass.
	CandidateLimit int `mapstructure:"candidateLimit"`
}

// TimeplusConfig holds the Timeplus connection configuration
type TimeplusConfig struct {
	Address   string `mapstructure:"address"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	Workspace string `mapstructure:"workspace"`
}

// LoadConfig loads the application configuration from file or environment variables
func LoadConfig(configPath string) (*Config, error) {
	var config Config

	// Set default values
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.allowedOrigins", "*")
	viper.SetDefault("server.shutdownTimeout", 10)
	viper.SetDefault("engine.workspaceId", "default")
	viper.SetDefault("engine.pollIntervalSeconds", 60)
	viper.SetDefault("engine.candidateLimit", 50)

	// Allow environment variables to override config file
	viper.SetEnvPrefix("ESC_GATEWAY")
	viper.AutomaticEnv()

	// If config file is provided, read it
	if configPath != "" {
		viper.SetConfigFile(configPath)
		if err := viper.ReadInConfig(); err != nil {
			logrus.Warnf("Error reading config file: %v", err)
		}
	}

	// Unmarshal config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
