package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port int
	}
	Database struct {
		Path string
	}
	Email struct {
		SMTPHost string
		SMTPPort int
		From     string
		Password string
	}
	Slack struct {
		Token   string
		Channel string
	}
	Org    OrgConfig
	Engine EngineConfig
}

// OrgConfig holds organization-wide limits. It is read-only to the core;
// an external admin surface owns the values.
type OrgConfig struct {
	MaxRecipientsPerSchedule int
	ExecutionRetentionDays   int
	ArtifactRetentionDays    int
	CustomCronEnabled        bool
}

type EngineConfig struct {
	Workers             int
	PollIntervalSeconds int
	DeliveryMaxAttempts int
	AttachmentMaxBytes  int64
	ArtifactBaseURL     string
}

func (e EngineConfig) PollInterval() time.Duration {
	return time.Duration(e.PollIntervalSeconds) * time.Second
}

// LoadConfig loads the configuration from config.yaml
func LoadConfig() *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	setDefaults()

	var config Config

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found, write one with the defaults
			if err := os.MkdirAll("data", 0755); err != nil {
				fmt.Printf("Warning: Failed to create data directory: %v\n", err)
			}
			if err := viper.SafeWriteConfig(); err != nil {
				fmt.Printf("Warning: Failed to write default config: %v\n", err)
			}
		} else {
			fmt.Printf("Error reading config file: %v\n", err)
		}
	}

	if err := viper.Unmarshal(&config); err != nil {
		fmt.Printf("Error unmarshaling config: %v\n", err)
	}

	return &config
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("database.path", "data/chatbi.db")
	viper.SetDefault("email.smtphost", "localhost")
	viper.SetDefault("email.smtpport", 587)
	viper.SetDefault("email.from", "Chat BI Studio <reports@chatbi.local>")
	viper.SetDefault("org.maxrecipientsperschedule", 50)
	viper.SetDefault("org.executionretentiondays", 90)
	viper.SetDefault("org.artifactretentiondays", 30)
	viper.SetDefault("org.customcronenabled", true)
	viper.SetDefault("engine.workers", 4)
	viper.SetDefault("engine.pollintervalseconds", 30)
	viper.SetDefault("engine.deliverymaxattempts", 5)
	viper.SetDefault("engine.attachmentmaxbytes", 10*1024*1024)
	viper.SetDefault("engine.artifactbaseurl", "http://localhost:8080/artifacts")
}
