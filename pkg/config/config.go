package config

import (
	"MeetingScribe/pkg/logger"
	"MeetingScribe/pkg/storage"
	"MeetingScribe/pkg/util"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/BurntSushi/toml"
)

// Config 全局配置
type Config struct {
	Mode        string `env:"MODE" toml:"mode"`
	SessionsDir string `env:"SESSIONS_DIR" toml:"sessions_dir"`
	Timezone    string `env:"TIMEZONE" toml:"timezone"`
	MetricsAddr string `env:"METRICS_ADDR" toml:"metrics_addr"`
	Log         logger.LogConfig

	// 控制接口
	HTTPAddr  string `env:"HTTP_ADDR" toml:"http_addr"`
	APISecret string `env:"API_SECRET" toml:"api_secret"`
	RateLimit string `env:"RATE_LIMIT" toml:"rate_limit"`

	// 缓存
	CacheType     string `env:"CACHE_TYPE" toml:"cache_type"`
	RedisAddr     string `env:"REDIS_ADDR" toml:"redis_addr"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" toml:"redis_db"`

	// 录音
	StopTimeout     time.Duration `env:"STOP_TIMEOUT" toml:"stop_timeout"`
	MaxTracks       int           `env:"MAX_TRACKS" toml:"max_tracks"`
	EventQueueSize  int           `env:"EVENT_QUEUE_SIZE" toml:"event_queue_size"`
	EventMaxRetries int           `env:"EVENT_MAX_RETRIES" toml:"event_max_retries"`
	MinFreeMB       int           `env:"MIN_FREE_MB" toml:"min_free_mb"`

	// 转写
	WhisperModel       string        `env:"WHISPER_MODEL" toml:"whisper_model"`
	Device             string        `env:"DEVICE" toml:"device"`
	ComputeType        string        `env:"COMPUTE_TYPE" toml:"compute_type"`
	LLMModel           string        `env:"LLM_MODEL" toml:"llm_model"`
	ASRURL             string        `env:"ASR_URL" toml:"asr_url"`
	Language           string        `env:"LANGUAGE" toml:"language"`
	MetadataRetries    int           `env:"METADATA_RETRIES" toml:"metadata_retries"`
	MetadataRetryDelay time.Duration `env:"METADATA_RETRY_DELAY" toml:"metadata_retry_delay"`

	// 会话目录索引库
	DBDriver string `env:"DB_DRIVER" toml:"db_driver"`
	DSN      string `env:"DSN" toml:"dsn"`

	// 全文检索
	SearchEnabled   bool   `env:"SEARCH_ENABLED" toml:"search_enabled"`
	SearchIndexPath string `env:"SEARCH_INDEX_PATH" toml:"search_index_path"`

	BackupEnabled  bool   `env:"BACKUP_ENABLED" toml:"backup_enabled"`
	BackupPath     string `env:"BACKUP_PATH" toml:"backup_path"`
	BackupSchedule string `env:"BACKUP_SCHEDULE" toml:"backup_schedule"`
	SweepSchedule  string `env:"SWEEP_SCHEDULE" toml:"sweep_schedule"`

	ArchiveEnabled bool `env:"ARCHIVE_ENABLED" toml:"archive_enabled"`
	Minio          storage.MinioConfig
}

// fileConfig mirrors Config for the optional TOML file. Durations are
// strings there ("5s").
type fileConfig struct {
	Mode               string `toml:"mode"`
	SessionsDir        string `toml:"sessions_dir"`
	Timezone           string `toml:"timezone"`
	MetricsAddr        string `toml:"metrics_addr"`
	HTTPAddr           string `toml:"http_addr"`
	APISecret          string `toml:"api_secret"`
	RateLimit          string `toml:"rate_limit"`
	CacheType          string `toml:"cache_type"`
	RedisAddr          string `toml:"redis_addr"`
	RedisDB            int    `toml:"redis_db"`
	MinFreeMB          int    `toml:"min_free_mb"`
	Language           string `toml:"language"`
	StopTimeout        string `toml:"stop_timeout"`
	MaxTracks          int    `toml:"max_tracks"`
	EventQueueSize     int    `toml:"event_queue_size"`
	EventMaxRetries    int    `toml:"event_max_retries"`
	WhisperModel       string `toml:"whisper_model"`
	Device             string `toml:"device"`
	ComputeType        string `toml:"compute_type"`
	LLMModel           string `toml:"llm_model"`
	ASRURL             string `toml:"asr_url"`
	MetadataRetries    int    `toml:"metadata_retries"`
	MetadataRetryDelay string `toml:"metadata_retry_delay"`
	DBDriver           string `toml:"db_driver"`
	DSN                string `toml:"dsn"`
	SearchEnabled      *bool  `toml:"search_enabled"`
	SearchIndexPath    string `toml:"search_index_path"`
	BackupPath         string `toml:"backup_path"`
	BackupSchedule     string `toml:"backup_schedule"`
	SweepSchedule      string `toml:"sweep_schedule"`
}

var GlobalConfig *Config

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Mode:               "production",
		SessionsDir:        "sessions",
		Timezone:           "UTC",
		MetricsAddr:        ":9090",
		HTTPAddr:           ":8081",
		RateLimit:          "20-S",
		CacheType:          "local",
		MinFreeMB:          512,
		Log:                logger.LogConfig{Level: "info"},
		StopTimeout:        5 * time.Second,
		MaxTracks:          64,
		EventQueueSize:     4096,
		EventMaxRetries:    5,
		WhisperModel:       "medium",
		Device:             "cpu",
		ComputeType:        "int8",
		ASRURL:             "http://127.0.0.1:8080",
		MetadataRetries:    10,
		MetadataRetryDelay: 3 * time.Second,
		DBDriver:           "sqlite",
		SearchEnabled:      true,
		BackupPath:         "backups",
		BackupSchedule:     "0 3 * * *",
		SweepSchedule:      "*/10 * * * *",
	}
}

func Load() error {
	// 1. 根据环境加载 .env 文件
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}
	if err := util.LoadEnv(env); err != nil {
		log.Printf("Failed to load .env file: %v", err)
	}

	// 2. 默认值 -> 配置文件 -> 环境变量
	cfg := Default()
	if path := configFilePath(); path != "" {
		if err := applyFile(cfg, path); err != nil {
			log.Printf("Failed to load config file %s: %v", path, err)
		}
	}
	applyEnv(cfg)
	if cfg.DSN == "" && (cfg.DBDriver == "" || cfg.DBDriver == "sqlite") {
		cfg.DSN = util.SQLiteFileDSN(filepath.Join(cfg.SessionsDir, "catalog.db"))
	}
	if cfg.SearchIndexPath == "" {
		cfg.SearchIndexPath = filepath.Join(cfg.SessionsDir, ".search.bleve")
	}

	GlobalConfig = cfg
	return nil
}

// Location resolves Timezone, falling back to UTC for unknown names.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "UTC") {
		return time.UTC
	}
	if strings.EqualFold(c.Timezone, "Local") {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		log.Printf("unknown TIMEZONE %q, using UTC", c.Timezone)
		return time.UTC
	}
	return loc
}

func applyFile(cfg *Config, path string) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return err
	}
	setString(&cfg.Mode, fc.Mode)
	setString(&cfg.SessionsDir, expandTilde(fc.SessionsDir))
	setString(&cfg.Timezone, fc.Timezone)
	setString(&cfg.MetricsAddr, fc.MetricsAddr)
	setString(&cfg.HTTPAddr, fc.HTTPAddr)
	setString(&cfg.APISecret, fc.APISecret)
	setString(&cfg.RateLimit, fc.RateLimit)
	setString(&cfg.CacheType, fc.CacheType)
	setString(&cfg.RedisAddr, fc.RedisAddr)
	setInt(&cfg.RedisDB, fc.RedisDB)
	setInt(&cfg.MinFreeMB, fc.MinFreeMB)
	setString(&cfg.Language, fc.Language)
	setDuration(&cfg.StopTimeout, fc.StopTimeout)
	setInt(&cfg.MaxTracks, fc.MaxTracks)
	setInt(&cfg.EventQueueSize, fc.EventQueueSize)
	setInt(&cfg.EventMaxRetries, fc.EventMaxRetries)
	setString(&cfg.WhisperModel, fc.WhisperModel)
	setString(&cfg.Device, fc.Device)
	setString(&cfg.ComputeType, fc.ComputeType)
	setString(&cfg.LLMModel, fc.LLMModel)
	setString(&cfg.ASRURL, fc.ASRURL)
	setInt(&cfg.MetadataRetries, fc.MetadataRetries)
	setDuration(&cfg.MetadataRetryDelay, fc.MetadataRetryDelay)
	setString(&cfg.DBDriver, fc.DBDriver)
	setString(&cfg.DSN, fc.DSN)
	if fc.SearchEnabled != nil {
		cfg.SearchEnabled = *fc.SearchEnabled
	}
	setString(&cfg.SearchIndexPath, expandTilde(fc.SearchIndexPath))
	setString(&cfg.BackupPath, expandTilde(fc.BackupPath))
	setString(&cfg.BackupSchedule, fc.BackupSchedule)
	setString(&cfg.SweepSchedule, fc.SweepSchedule)
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Mode, util.GetEnv("MODE"))
	setString(&cfg.SessionsDir, expandTilde(util.GetEnv("SESSIONS_DIR")))
	setString(&cfg.Timezone, util.GetEnv("TIMEZONE"))
	setString(&cfg.MetricsAddr, util.GetEnv("METRICS_ADDR"))
	setString(&cfg.HTTPAddr, util.GetEnv("HTTP_ADDR"))
	setString(&cfg.APISecret, util.GetEnv("API_SECRET"))
	setString(&cfg.RateLimit, util.GetEnv("RATE_LIMIT"))
	setString(&cfg.CacheType, util.GetEnv("CACHE_TYPE"))
	setString(&cfg.RedisAddr, util.GetEnv("REDIS_ADDR"))
	setString(&cfg.RedisPassword, util.GetEnv("REDIS_PASSWORD"))
	setInt(&cfg.RedisDB, int(util.GetIntEnv("REDIS_DB")))
	setInt(&cfg.MinFreeMB, int(util.GetIntEnv("MIN_FREE_MB")))
	setString(&cfg.Language, util.GetEnv("LANGUAGE"))
	cfg.Log = logger.LogConfig{
		Level:      util.GetEnvOr("LOG_LEVEL", cfg.Log.Level),
		Filename:   util.GetEnvOr("LOG_FILENAME", cfg.Log.Filename),
		MaxSize:    int(util.GetIntEnv("LOG_MAX_SIZE")),
		MaxAge:     int(util.GetIntEnv("LOG_MAX_AGE")),
		MaxBackups: int(util.GetIntEnv("LOG_MAX_BACKUPS")),
	}

	if d := util.GetDurationEnv("STOP_TIMEOUT"); d > 0 {
		cfg.StopTimeout = d
	}
	setInt(&cfg.MaxTracks, int(util.GetIntEnv("MAX_TRACKS")))
	setInt(&cfg.EventQueueSize, int(util.GetIntEnv("EVENT_QUEUE_SIZE")))
	setInt(&cfg.EventMaxRetries, int(util.GetIntEnv("EVENT_MAX_RETRIES")))

	setString(&cfg.WhisperModel, util.GetEnv("WHISPER_MODEL"))
	setString(&cfg.Device, util.GetEnv("DEVICE"))
	setString(&cfg.ComputeType, util.GetEnv("COMPUTE_TYPE"))
	setString(&cfg.LLMModel, util.GetEnv("LLM_MODEL"))
	setString(&cfg.ASRURL, util.GetEnv("ASR_URL"))
	setInt(&cfg.MetadataRetries, int(util.GetIntEnv("METADATA_RETRIES")))
	if d := util.GetDurationEnv("METADATA_RETRY_DELAY"); d > 0 {
		cfg.MetadataRetryDelay = d
	}

	setString(&cfg.DBDriver, util.GetEnv("DB_DRIVER"))
	setString(&cfg.DSN, util.GetEnv("DSN"))
	if os.Getenv("SEARCH_ENABLED") != "" {
		cfg.SearchEnabled = util.GetBoolEnv("SEARCH_ENABLED")
	}
	setString(&cfg.SearchIndexPath, expandTilde(util.GetEnv("SEARCH_INDEX_PATH")))

	if os.Getenv("BACKUP_ENABLED") != "" {
		cfg.BackupEnabled = util.GetBoolEnv("BACKUP_ENABLED")
	}
	setString(&cfg.BackupPath, expandTilde(util.GetEnv("BACKUP_PATH")))
	setString(&cfg.BackupSchedule, util.GetEnv("BACKUP_SCHEDULE"))
	setString(&cfg.SweepSchedule, util.GetEnv("SWEEP_SCHEDULE"))

	if os.Getenv("ARCHIVE_ENABLED") != "" {
		cfg.ArchiveEnabled = util.GetBoolEnv("ARCHIVE_ENABLED")
	}
	cfg.Minio = storage.MinioConfigFromEnv()
}

func configFilePath() string {
	if p := util.GetEnv("CONFIG_FILE"); p != "" {
		return expandTilde(p)
	}
	var dir string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		dir = filepath.Join(xdg, "meetingscribe")
	} else if home, err := os.UserHomeDir(); err == nil {
		dir = filepath.Join(home, ".config", "meetingscribe")
	} else {
		return ""
	}
	path := filepath.Join(dir, "config.toml")
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}

func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v string) {
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		*dst = d
	}
}
