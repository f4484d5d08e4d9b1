package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Fusion     FusionConfig     `yaml:"fusion" mapstructure:"fusion"`
	Voxel      VoxelConfig      `yaml:"voxel" mapstructure:"voxel"`
	Elevation  ElevationConfig  `yaml:"elevation" mapstructure:"elevation"`
	Replay     ReplayConfig     `yaml:"replay" mapstructure:"replay"`
	Checkpoint CheckpointConfig `yaml:"checkpoint" mapstructure:"checkpoint"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// FusionConfig tunes the position fusion loop.
type FusionConfig struct {
	GPSWeight           float64 `yaml:"gps_weight" mapstructure:"gps_weight"`
	IMUWeight           float64 `yaml:"imu_weight" mapstructure:"imu_weight"`
	DampingFactor       float64 `yaml:"damping_factor" mapstructure:"damping_factor"`
	StepThresholdG      float64 `yaml:"step_threshold_g" mapstructure:"step_threshold_g"`
	AccuracyFloorMeters float64 `yaml:"accuracy_floor_m" mapstructure:"accuracy_floor_m"`
	SampleIntervalMS    int     `yaml:"sample_interval_ms" mapstructure:"sample_interval_ms"`
}

// VoxelConfig sets the coverage grid resolutions. Walk is the coarse grid
// painted live during a scan; precision is the fine grid used for close-up
// surface passes.
type VoxelConfig struct {
	WalkSizeMeters      float64 `yaml:"walk_size_m" mapstructure:"walk_size_m"`
	PrecisionSizeMeters float64 `yaml:"precision_size_m" mapstructure:"precision_size_m"`
}

// ElevationConfig configures the elevation sample grid.
type ElevationConfig struct {
	CellSizeMeters float64 `yaml:"cell_size_m" mapstructure:"cell_size_m"`
}

// ReplayConfig configures sensor log replay.
type ReplayConfig struct {
	Speed    float64 `yaml:"speed" mapstructure:"speed"`
	Encoding string  `yaml:"encoding" mapstructure:"encoding"`
}

// CheckpointConfig tunes periodic scan persistence and its failure handling.
type CheckpointConfig struct {
	IntervalSecs            int     `yaml:"interval_secs" mapstructure:"interval_secs"`
	RetryMaxAttempts        int     `yaml:"retry_max_attempts" mapstructure:"retry_max_attempts"`
	RetryInitialBackoffMS   int     `yaml:"retry_initial_backoff_ms" mapstructure:"retry_initial_backoff_ms"`
	RetryMaxBackoffMS       int     `yaml:"retry_max_backoff_ms" mapstructure:"retry_max_backoff_ms"`
	RetryMultiplier         float64 `yaml:"retry_multiplier" mapstructure:"retry_multiplier"`
	RetryJitterFraction     float64 `yaml:"retry_jitter_fraction" mapstructure:"retry_jitter_fraction"`
	BreakerFailureThreshold int     `yaml:"breaker_failure_threshold" mapstructure:"breaker_failure_threshold"`
	BreakerResetTimeoutSecs int     `yaml:"breaker_reset_timeout_secs" mapstructure:"breaker_reset_timeout_secs"`
}

// MonitoringConfig configures sensor health checks and alerting.
type MonitoringConfig struct {
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	AccuracyThresholdM   float64 `yaml:"accuracy_threshold_m" mapstructure:"accuracy_threshold_m"`
	SilenceThresholdSecs int     `yaml:"silence_threshold_secs" mapstructure:"silence_threshold_secs"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// ServerConfig configures the HTTP status server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks the fields required for the given run mode. Modes: scan,
// replay, serve.
func (c *Config) Validate(mode string) error {
	var missing []string

	check := func(predicate bool, msg string) {
		if !predicate {
			missing = append(missing, msg)
		}
	}

	// Shared bounds.
	check(c.Fusion.GPSWeight >= 0 && c.Fusion.GPSWeight <= 1, "fusion.gps_weight must be between 0 and 1")
	check(c.Fusion.IMUWeight >= 0 && c.Fusion.IMUWeight <= 1, "fusion.imu_weight must be between 0 and 1")
	check(c.Fusion.SampleIntervalMS > 0, "fusion.sample_interval_ms must be > 0")
	check(c.Voxel.WalkSizeMeters > 0, "voxel.walk_size_m must be > 0")
	check(c.Voxel.PrecisionSizeMeters > 0, "voxel.precision_size_m must be > 0")
	check(c.Elevation.CellSizeMeters > 0, "elevation.cell_size_m must be > 0")

	switch mode {
	case "scan":
		check(c.Store.DatabaseURL != "", "store.database_url is required")
	case "replay":
		check(c.Replay.Speed > 0, "replay.speed must be > 0")
	case "serve":
		check(c.Server.Port > 0, "server.port must be > 0")
		check(c.Store.DatabaseURL != "", "store.database_url is required")
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(missing) > 0 {
		return eris.Errorf("config: invalid for mode %q: %s", mode, strings.Join(missing, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CATCHSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "catchscan.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("fusion.gps_weight", 0.7)
	v.SetDefault("fusion.imu_weight", 0.3)
	v.SetDefault("fusion.damping_factor", 0.8)
	v.SetDefault("fusion.step_threshold_g", 1.2)
	v.SetDefault("fusion.accuracy_floor_m", 20.0)
	v.SetDefault("fusion.sample_interval_ms", 200)
	v.SetDefault("voxel.walk_size_m", 0.5)
	v.SetDefault("voxel.precision_size_m", 0.05)
	v.SetDefault("elevation.cell_size_m", 0.1)
	v.SetDefault("replay.speed", 1.0)
	v.SetDefault("replay.encoding", "utf-8")
	v.SetDefault("checkpoint.interval_secs", 10)
	v.SetDefault("checkpoint.retry_jitter_fraction", 0.25)
	v.SetDefault("monitoring.check_interval_secs", 30)
	v.SetDefault("monitoring.accuracy_threshold_m", 15.0)
	v.SetDefault("monitoring.silence_threshold_secs", 10)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
