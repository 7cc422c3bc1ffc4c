package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Duration is a time.Duration that unmarshals from TOML strings like
// "5s" or "2m30s". go-toml only decodes durations from integer
// nanoseconds, so config files carry them as strings.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Duration returns the standard library value
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Config represents the application configuration
type Config struct {
	Environment   string              `toml:"environment"` // "development" or "production"
	Server        ServerConfig        `toml:"server"`
	Redis         RedisConfig         `toml:"redis"`
	Queue         QueueConfig         `toml:"queue"`
	Monitoring    MonitoringConfig    `toml:"monitoring"`
	Storage       StorageConfig       `toml:"storage"`
	Logging       LoggingConfig       `toml:"logging"`
	Crawler       CrawlerConfig       `toml:"crawler"`
	RateLimiter   RateLimiterConfig   `toml:"rate_limiter"`
	AntiDetection AntiDetectionConfig `toml:"anti_detection"`
	Proxy         ProxyConfig         `toml:"proxy"`
	WebSocket     WebSocketConfig     `toml:"websocket"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// RedisConfig holds connection settings for the coordination broker
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// QueueConfig names the broker keys shared between coordinator and satellites
type QueueConfig struct {
	JobQueueName           string        `toml:"job_queue_name"`
	ResultQueueName        string        `toml:"result_queue_name"`
	DeadLetterQueueName    string        `toml:"dead_letter_queue_name"`
	ScheduledJobsQueue     string        `toml:"scheduled_jobs_queue"`
	HeartbeatQueueSorted   string        `toml:"heartbeat_queue_sorted_name"`
	PausedFlagKey          string        `toml:"paused_flag_key"`
	ControlChannelPrefix   string        `toml:"control_channel_prefix"`
	SchedulerInterval      Duration `toml:"scheduler_interval"`     // How often scheduled jobs are swept into the work queue
	PopTimeout             Duration `toml:"pop_timeout"`            // Blocking pop timeout for job and result queues
	DeadLetterMaxLength    int      `toml:"dead_letter_max_length"` // Cap enforced by the maintenance sweep
	MaintenanceSchedule    string   `toml:"maintenance_schedule"`   // Cron schedule for queue maintenance
}

type MonitoringConfig struct {
	CrawlerTimeout    Duration `toml:"crawler_timeout"`    // Satellites silent longer than this are inactive
	HeartbeatInterval Duration `toml:"heartbeat_interval"` // How often a satellite writes its heartbeat
	HeartbeatEveryN   int      `toml:"heartbeat_every_n"`  // Also heartbeat every N processed URLs
}

// StorageConfig selects the JobStore backend. "redis" shares job state
// across coordinator and satellite processes; "badger" is embedded and
// only valid when a single process owns the store.
type StorageConfig struct {
	Type   string       `toml:"type"` // "redis" or "badger"
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// CrawlerConfig contains defaults applied to jobs that do not override them
type CrawlerConfig struct {
	DelaySeconds           float64 `toml:"delay_seconds"`             // Initial per-host delay
	TimeoutSeconds         float64 `toml:"timeout_seconds"`           // Per-URL fetch timeout
	UserAgent              string  `toml:"user_agent"`
	RespectRobotsTxt       bool    `toml:"respect_robots_txt"`
	FollowRedirects        bool    `toml:"follow_redirects"`
	RenderJavaScript       bool    `toml:"render_javascript"`
	MaxCrawlDepthAdjust    int     `toml:"max_crawl_depth_adjustment"` // Added to job max_depth, may be negative
	RobotsCacheTTL         string  `toml:"robots_cache_ttl"`
	MaxBodySize            int     `toml:"max_body_size"`
	HostBreakerEnabled     bool    `toml:"host_breaker_enabled"`     // Per-host circuit breaker (synthetic 503 when open)
	HostBreakerCooldown    string  `toml:"host_breaker_cooldown"`
	JavaScriptWaitTime     string  `toml:"javascript_wait_time"`
	BrowserHeadless        bool    `toml:"browser_headless"`
}

// RateLimiterConfig tunes the adaptive per-host rate limiter
type RateLimiterConfig struct {
	HistorySize       int     `toml:"history_size"`
	SuccessFactor     float64 `toml:"success_factor"`
	FailureFactor     float64 `toml:"failure_factor"`
	MinDelay          float64 `toml:"min_delay"` // Seconds
	MaxDelay          float64 `toml:"max_delay"` // Seconds
	SlowResponseMs    float64 `toml:"slow_response_ms"`
}

type AntiDetectionConfig struct {
	MLRateOptimization        bool `toml:"ml_rate_optimization"`
	HumanLikeDelays           bool `toml:"human_like_delays"`
	RequestHeaderRandomization bool `toml:"request_header_randomization"`
}

type ProxyConfig struct {
	UseProxies             bool    `toml:"use_proxies"`
	ProxyRetryDelaySeconds float64 `toml:"proxy_retry_delay_seconds"`
	MaxFailuresBeforeBan   int     `toml:"max_failures_before_ban"`
}

// WebSocketConfig contains configuration for the dashboard broadcast hub
type WebSocketConfig struct {
	Enabled                 bool   `toml:"enabled"`
	MaxConnections          int    `toml:"max_connections"`
	DashboardUpdateInterval string `toml:"dashboard_update_interval"`
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability;
// only user-facing settings should be exposed in aranea.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
			DB:   0,
		},
		Queue: QueueConfig{
			JobQueueName:         "crawl_jobs",
			ResultQueueName:      "crawl_results",
			DeadLetterQueueName:  "dead_letter_queue",
			ScheduledJobsQueue:   "scheduled_crawl_jobs",
			HeartbeatQueueSorted: "crawler_heartbeats_sorted",
			PausedFlagKey:        "job_processing_paused",
			ControlChannelPrefix: "crawler_control",
			SchedulerInterval:    Duration(5 * time.Second),
			PopTimeout:           Duration(5 * time.Second),
			DeadLetterMaxLength:  1000,
			MaintenanceSchedule:  "@every 5m",
		},
		Monitoring: MonitoringConfig{
			CrawlerTimeout:    Duration(60 * time.Second),
			HeartbeatInterval: Duration(10 * time.Second),
			HeartbeatEveryN:   10,
		},
		Storage: StorageConfig{
			Type: "redis",
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
		Crawler: CrawlerConfig{
			DelaySeconds:        1.0,
			TimeoutSeconds:      30.0,
			UserAgent:           "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			RespectRobotsTxt:    true,
			FollowRedirects:     true,
			RenderJavaScript:    false,
			MaxCrawlDepthAdjust: 0,
			RobotsCacheTTL:      "1h",
			MaxBodySize:         10 * 1024 * 1024, // 10MB
			HostBreakerEnabled:  false,
			HostBreakerCooldown: "30s",
			JavaScriptWaitTime:  "3s",
			BrowserHeadless:     true,
		},
		RateLimiter: RateLimiterConfig{
			HistorySize:    10,
			SuccessFactor:  0.9,
			FailureFactor:  1.5,
			MinDelay:       0.1,
			MaxDelay:       60.0,
			SlowResponseMs: 5000,
		},
		AntiDetection: AntiDetectionConfig{
			MLRateOptimization:         false,
			HumanLikeDelays:            false,
			RequestHeaderRandomization: false,
		},
		Proxy: ProxyConfig{
			UseProxies:             false,
			ProxyRetryDelaySeconds: 60,
			MaxFailuresBeforeBan:   3,
		},
		WebSocket: WebSocketConfig{
			Enabled:                 true,
			MaxConnections:          100,
			DashboardUpdateInterval: "5s",
		},
	}
}

// LoadFromFile loads configuration with priority: defaults -> file -> env
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files; later files
// override earlier files, environment variables override all files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("ARANEA_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("ARANEA_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("ARANEA_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Broker configuration
	if addr := os.Getenv("ARANEA_REDIS_ADDR"); addr != "" {
		config.Redis.Addr = addr
	}
	if password := os.Getenv("ARANEA_REDIS_PASSWORD"); password != "" {
		config.Redis.Password = password
	}
	if db := os.Getenv("ARANEA_REDIS_DB"); db != "" {
		if d, err := strconv.Atoi(db); err == nil {
			config.Redis.DB = d
		}
	}

	// Queue configuration
	if name := os.Getenv("ARANEA_QUEUE_JOB_QUEUE_NAME"); name != "" {
		config.Queue.JobQueueName = name
	}
	if name := os.Getenv("ARANEA_QUEUE_RESULT_QUEUE_NAME"); name != "" {
		config.Queue.ResultQueueName = name
	}
	if name := os.Getenv("ARANEA_QUEUE_DEAD_LETTER_QUEUE_NAME"); name != "" {
		config.Queue.DeadLetterQueueName = name
	}
	if name := os.Getenv("ARANEA_QUEUE_SCHEDULED_JOBS_QUEUE"); name != "" {
		config.Queue.ScheduledJobsQueue = name
	}
	if name := os.Getenv("ARANEA_QUEUE_HEARTBEAT_QUEUE"); name != "" {
		config.Queue.HeartbeatQueueSorted = name
	}
	if interval := os.Getenv("ARANEA_QUEUE_SCHEDULER_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			config.Queue.SchedulerInterval = Duration(d)
		}
	}
	if timeout := os.Getenv("ARANEA_QUEUE_POP_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Queue.PopTimeout = Duration(d)
		}
	}

	// Monitoring configuration
	if timeout := os.Getenv("ARANEA_MONITORING_CRAWLER_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Monitoring.CrawlerTimeout = Duration(d)
		}
	}
	if interval := os.Getenv("ARANEA_MONITORING_HEARTBEAT_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			config.Monitoring.HeartbeatInterval = Duration(d)
		}
	}

	// Storage configuration
	if storageType := os.Getenv("ARANEA_STORAGE_TYPE"); storageType != "" {
		config.Storage.Type = storageType
	}
	if badgerPath := os.Getenv("ARANEA_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Logging configuration
	if level := os.Getenv("ARANEA_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("ARANEA_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			trimmed := strings.TrimSpace(o)
			if trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Crawler configuration
	if userAgent := os.Getenv("ARANEA_CRAWLER_USER_AGENT"); userAgent != "" {
		config.Crawler.UserAgent = userAgent
	}
	if delay := os.Getenv("ARANEA_CRAWLER_DELAY_SECONDS"); delay != "" {
		if d, err := strconv.ParseFloat(delay, 64); err == nil {
			config.Crawler.DelaySeconds = d
		}
	}
	if timeout := os.Getenv("ARANEA_CRAWLER_TIMEOUT_SECONDS"); timeout != "" {
		if t, err := strconv.ParseFloat(timeout, 64); err == nil {
			config.Crawler.TimeoutSeconds = t
		}
	}
	if respectRobots := os.Getenv("ARANEA_CRAWLER_RESPECT_ROBOTS_TXT"); respectRobots != "" {
		if rr, err := strconv.ParseBool(respectRobots); err == nil {
			config.Crawler.RespectRobotsTxt = rr
		}
	}
	if followRedirects := os.Getenv("ARANEA_CRAWLER_FOLLOW_REDIRECTS"); followRedirects != "" {
		if fr, err := strconv.ParseBool(followRedirects); err == nil {
			config.Crawler.FollowRedirects = fr
		}
	}
	if renderJS := os.Getenv("ARANEA_CRAWLER_RENDER_JAVASCRIPT"); renderJS != "" {
		if rj, err := strconv.ParseBool(renderJS); err == nil {
			config.Crawler.RenderJavaScript = rj
		}
	}

	// Rate limiter configuration
	if historySize := os.Getenv("ARANEA_RATE_LIMITER_HISTORY_SIZE"); historySize != "" {
		if hs, err := strconv.Atoi(historySize); err == nil {
			config.RateLimiter.HistorySize = hs
		}
	}
	if minDelay := os.Getenv("ARANEA_RATE_LIMITER_MIN_DELAY"); minDelay != "" {
		if md, err := strconv.ParseFloat(minDelay, 64); err == nil {
			config.RateLimiter.MinDelay = md
		}
	}
	if maxDelay := os.Getenv("ARANEA_RATE_LIMITER_MAX_DELAY"); maxDelay != "" {
		if md, err := strconv.ParseFloat(maxDelay, 64); err == nil {
			config.RateLimiter.MaxDelay = md
		}
	}

	// Anti-detection configuration
	if mlOpt := os.Getenv("ARANEA_ANTI_DETECTION_ML_RATE_OPTIMIZATION"); mlOpt != "" {
		if ml, err := strconv.ParseBool(mlOpt); err == nil {
			config.AntiDetection.MLRateOptimization = ml
		}
	}

	// Proxy configuration
	if useProxies := os.Getenv("ARANEA_PROXY_USE_PROXIES"); useProxies != "" {
		if up, err := strconv.ParseBool(useProxies); err == nil {
			config.Proxy.UseProxies = up
		}
	}

	// WebSocket configuration
	if enabled := os.Getenv("ARANEA_WEBSOCKET_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.WebSocket.Enabled = e
		}
	}
	if maxConns := os.Getenv("ARANEA_WEBSOCKET_MAX_CONNECTIONS"); maxConns != "" {
		if mc, err := strconv.Atoi(maxConns); err == nil {
			config.WebSocket.MaxConnections = mc
		}
	}
}
