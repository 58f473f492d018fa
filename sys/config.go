package sys

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/joho/godotenv"
)

// StatsPollInterval is the fixed delay between the end of one dashboard tick and the next.
const StatsPollInterval = 300 * time.Second

type Config struct {
	Token        string
	DatabasePath string
	MetricsAddr  string
	Silent       bool

	StatChannelID       snowflake.ID
	APIEndpoint         string
	APIKey              string
	WelcomeChannelID    snowflake.ID
	PublicLogChannelID  snowflake.ID
	PrivateLogChannelID snowflake.ID
}

// PollConfig is the immutable configuration of the stats dashboard.
type PollConfig struct {
	ChannelID snowflake.ID
	Endpoint  string
	APIKey    string
	Interval  time.Duration
}

var GlobalConfig *Config

// LoadConfig initializes the configuration from environment variables.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		folder := "."
		if info, err := os.Stat("data"); err == nil && info.IsDir() {
			folder = "./data"
		}
		dbPath = filepath.Join(folder, GetProjectName()+".db")
	}

	silent, _ := strconv.ParseBool(os.Getenv("SILENT"))

	cfg := &Config{
		Token:        strings.TrimSpace(os.Getenv("DISCORD_TOKEN")),
		DatabasePath: dbPath,
		MetricsAddr:  os.Getenv("METRICS_ADDR"),
		Silent:       silent,
		APIEndpoint:  strings.TrimSpace(os.Getenv("API_ENDPOINT")),
		APIKey:       os.Getenv("NIJII_API_KEY"),
	}

	channels := []struct {
		key string
		dst *snowflake.ID
	}{
		{"STAT_CHANNEL_ID", &cfg.StatChannelID},
		{"WELCOME_CHANNEL_ID", &cfg.WelcomeChannelID},
		{"PUBLIC_LOG_CHANNEL_ID", &cfg.PublicLogChannelID},
		{"PRIVATE_LOG_CHANNEL_ID", &cfg.PrivateLogChannelID},
	}
	for _, c := range channels {
		id, err := parseChannelID(os.Getenv(c.key))
		if err != nil {
			return nil, fmt.Errorf(MsgConfigInvalidChannel, c.key)
		}
		*c.dst = id
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Silent {
		SetSilentMode(true)
	}

	GlobalConfig = cfg
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf(MsgConfigMissingToken)
	}
	if c.StatChannelID != 0 && c.APIEndpoint == "" {
		return fmt.Errorf(MsgConfigMissingAPI)
	}
	return nil
}

// PollConfig derives the dashboard settings.
func (c *Config) PollConfig() PollConfig {
	return PollConfig{
		ChannelID: c.StatChannelID,
		Endpoint:  c.APIEndpoint,
		APIKey:    c.APIKey,
		Interval:  StatsPollInterval,
	}
}

// parseChannelID treats empty and "0" as unset.
func parseChannelID(raw string) (snowflake.ID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "0" {
		return 0, nil
	}
	return snowflake.Parse(raw)
}

func GetProjectName() string {
	exePath, err := os.Executable()
	projectName := "nijisupport"
	if err == nil {
		projectName = filepath.Base(exePath)
		projectName = strings.TrimSuffix(projectName, ".exe")

		if projectName == "main" || strings.HasPrefix(projectName, "go_build_") || strings.HasSuffix(projectName, ".test") {
			projectName = "nijisupport"
		}
	}
	return projectName
}
