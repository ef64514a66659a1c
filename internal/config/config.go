package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/cadenza-player/cadenza/internal/platform"
)

type Config struct {
	Debug bool `mapstructure:"debug"`

	API struct {
		BaseURL   string `mapstructure:"base_url"`
		RateLimit struct {
			RequestsPerSecond int `mapstructure:"requests_per_second"`
			BurstSize         int `mapstructure:"burst_size"`
		} `mapstructure:"rate_limit"`
		Timeout   int    `mapstructure:"timeout"`
		Retries   int    `mapstructure:"retries"`
		UserAgent string `mapstructure:"user_agent"`
	} `mapstructure:"api"`

	Auth struct {
		AccessTokenTTL  int    `mapstructure:"access_token_ttl"`
		RefreshTokenTTL int    `mapstructure:"refresh_token_ttl"`
		SecureStorage   bool   `mapstructure:"secure_storage"`
		DevRefreshToken string `mapstructure:"dev_refresh_token"`
	} `mapstructure:"auth"`

	Storage struct {
		DatabasePath string `mapstructure:"database_path"`
		EnableWAL    bool   `mapstructure:"enable_wal"`
	} `mapstructure:"storage"`

	Audio struct {
		SampleRate    int     `mapstructure:"sample_rate"`
		BufferSize    int     `mapstructure:"buffer_size"`
		DefaultVolume float64 `mapstructure:"default_volume"`
	} `mapstructure:"audio"`

	Playback struct {
		DefaultQuality string `mapstructure:"default_quality"`
		AssetBucket    string `mapstructure:"asset_bucket"`
		AssetRegion    string `mapstructure:"asset_region"`
	} `mapstructure:"playback"`
}

func Load(configPath string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		configDir, err := platform.GetConfigDir()
		if err != nil {
			return nil, err
		}
		viper.AddConfigPath(configDir)
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("CADENZA")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := ensureDirectories(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("debug", false)

	viper.SetDefault("api.base_url", "https://api.cadenza.io/v1")
	viper.SetDefault("api.rate_limit.requests_per_second", 50)
	viper.SetDefault("api.rate_limit.burst_size", 10)
	viper.SetDefault("api.timeout", 30)
	viper.SetDefault("api.retries", 3)
	viper.SetDefault("api.user_agent", "Cadenza/1.0.0")

	// TTLs in days; an expiry inside a JWT access token still wins when shorter.
	viper.SetDefault("auth.access_token_ttl", 7)
	viper.SetDefault("auth.refresh_token_ttl", 30)
	viper.SetDefault("auth.secure_storage", true)
	viper.SetDefault("auth.dev_refresh_token", "")

	dataDir, _ := platform.GetDataDir()

	viper.SetDefault("storage.database_path", filepath.Join(dataDir, "session.db"))
	viper.SetDefault("storage.enable_wal", true)

	viper.SetDefault("audio.sample_rate", 44100)
	viper.SetDefault("audio.buffer_size", 16384)
	viper.SetDefault("audio.default_volume", 0.7)

	viper.SetDefault("playback.default_quality", "high")
	viper.SetDefault("playback.asset_bucket", "")
	viper.SetDefault("playback.asset_region", "us-east-1")
}

func ensureDirectories(cfg *Config) error {
	return os.MkdirAll(filepath.Dir(cfg.Storage.DatabasePath), 0755)
}

func (c *Config) Save() error {
	configDir, err := platform.GetConfigDir()
	if err != nil {
		return err
	}

	configFile := filepath.Join(configDir, "config.yaml")
	return viper.WriteConfigAs(configFile)
}
