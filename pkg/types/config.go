package types

import (
	"time"
)

// Mode constants for daemon operation
const (
	ModeLocal  = "local"  // SQLite store, in-process account locks
	ModeRemote = "remote" // Postgres store, Redis account locks
)

// AppConfig is the root configuration for the mailsync daemon
type AppConfig struct {
	Mode       string `key:"mode" json:"mode"` // "local" or "remote"
	DebugMode  bool   `key:"debugMode" json:"debug_mode"`
	PrettyLogs bool   `key:"prettyLogs" json:"pretty_logs"`

	Database   DatabaseConfig   `key:"database" json:"database"`
	OAuth      OAuthConfig      `key:"oauth" json:"oauth"`
	Sync       SyncConfig       `key:"sync" json:"sync"`
	Refresh    RefreshConfig    `key:"refresh" json:"refresh"`
	Classifier ClassifierConfig `key:"classifier" json:"classifier"`
	Events     EventsConfig     `key:"events" json:"events"`
	HTTP       HTTPConfig       `key:"http" json:"http"`
}

// IsLocalMode returns true if running in local mode (no Redis/Postgres)
func (c *AppConfig) IsLocalMode() bool {
	return c.Mode == ModeLocal
}

// ----------------------------------------------------------------------------
// Database Configuration
// ----------------------------------------------------------------------------

type DatabaseConfig struct {
	Redis    RedisConfig    `key:"redis" json:"redis"`
	Postgres PostgresConfig `key:"postgres" json:"postgres"`
	SQLite   SQLiteConfig   `key:"sqlite" json:"sqlite"`
}

type RedisMode string

const (
	RedisModeSingle  RedisMode = "single"
	RedisModeCluster RedisMode = "cluster"
)

type RedisConfig struct {
	Mode               RedisMode     `key:"mode" json:"mode"`
	Addrs              []string      `key:"addrs" json:"addrs"`
	Username           string        `key:"username" json:"username"`
	Password           string        `key:"password" json:"password"`
	ClientName         string        `key:"clientName" json:"client_name"`
	EnableTLS          bool          `key:"enableTLS" json:"enable_tls"`
	InsecureSkipVerify bool          `key:"insecureSkipVerify" json:"insecure_skip_verify"`
	PoolSize           int           `key:"poolSize" json:"pool_size"`
	MinIdleConns       int           `key:"minIdleConns" json:"min_idle_conns"`
	MaxIdleConns       int           `key:"maxIdleConns" json:"max_idle_conns"`
	ConnMaxIdleTime    time.Duration `key:"connMaxIdleTime" json:"conn_max_idle_time"`
	ConnMaxLifetime    time.Duration `key:"connMaxLifetime" json:"conn_max_lifetime"`
	DialTimeout        time.Duration `key:"dialTimeout" json:"dial_timeout"`
	ReadTimeout        time.Duration `key:"readTimeout" json:"read_timeout"`
	WriteTimeout       time.Duration `key:"writeTimeout" json:"write_timeout"`
	MaxRedirects       int           `key:"maxRedirects" json:"max_redirects"`
	MaxRetries         int           `key:"maxRetries" json:"max_retries"`
	RouteByLatency     bool          `key:"routeByLatency" json:"route_by_latency"`
}

type PostgresConfig struct {
	Host            string        `key:"host" json:"host"`
	Port            int           `key:"port" json:"port"`
	User            string        `key:"user" json:"user"`
	Password        string        `key:"password" json:"password"`
	Database        string        `key:"database" json:"database"`
	SSLMode         string        `key:"sslMode" json:"ssl_mode"`
	MaxOpenConns    int           `key:"maxOpenConns" json:"max_open_conns"`
	MaxIdleConns    int           `key:"maxIdleConns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `key:"connMaxLifetime" json:"conn_max_lifetime"`
}

// SQLiteConfig configures the embedded store used in local mode.
// Path ":memory:" keeps everything in process.
type SQLiteConfig struct {
	Path string `key:"path" json:"path"`
}

// ----------------------------------------------------------------------------
// OAuth Configuration
// ----------------------------------------------------------------------------

// OAuthConfig holds the per-provider client credentials used for refresh-token grants
type OAuthConfig struct {
	Google    OAuthClientConfig `key:"google" json:"google"`
	Microsoft OAuthClientConfig `key:"microsoft" json:"microsoft"`
}

type OAuthClientConfig struct {
	ClientID     string        `key:"clientId" json:"client_id"`
	ClientSecret string        `key:"clientSecret" json:"client_secret"`
	TokenURL     string        `key:"tokenUrl" json:"token_url"` // empty uses the provider's public endpoint
	Tenant       string        `key:"tenant" json:"tenant"`     // microsoft only
	Scope        string        `key:"scope" json:"scope"`
	Timeout      time.Duration `key:"timeout" json:"timeout"`
}

// IsConfigured returns true if both client credentials are present
func (c OAuthClientConfig) IsConfigured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// ----------------------------------------------------------------------------
// Sync Configuration
// ----------------------------------------------------------------------------

type SyncConfig struct {
	DefaultMaxCount           int           `key:"defaultMaxCount" json:"default_max_count"`
	MaxCount                  int           `key:"maxCount" json:"max_count"`
	FetchTimeout              time.Duration `key:"fetchTimeout" json:"fetch_timeout"`
	GmailAPIBase              string        `key:"gmailApiBase" json:"gmail_api_base"`
	GmailQuery                string        `key:"gmailQuery" json:"gmail_query"`
	GmailExcludedLabels       []string      `key:"gmailExcludedLabels" json:"gmail_excluded_labels"`
	GraphAPIBase              string        `key:"graphApiBase" json:"graph_api_base"`
	OutlookExcludedCategories []string      `key:"outlookExcludedCategories" json:"outlook_excluded_categories"`
}

// RefreshConfig controls the credential lifecycle and the background scheduler
type RefreshConfig struct {
	Interval   time.Duration `key:"interval" json:"interval"`
	Window     time.Duration `key:"window" json:"window"`
	Threshold  time.Duration `key:"threshold" json:"threshold"`
	SkewMargin time.Duration `key:"skewMargin" json:"skew_margin"`
	LockTTL    time.Duration `key:"lockTtl" json:"lock_ttl"`
	LockWait   time.Duration `key:"lockWait" json:"lock_wait"`
}

// ----------------------------------------------------------------------------
// Collaborators
// ----------------------------------------------------------------------------

type ClassifierConfig struct {
	URL              string        `key:"url" json:"url"`
	Timeout          time.Duration `key:"timeout" json:"timeout"`
	CacheSize        int           `key:"cacheSize" json:"cache_size"`
	BreakerFailures  uint32        `key:"breakerFailures" json:"breaker_failures"`
	BreakerOpenDelay time.Duration `key:"breakerOpenDelay" json:"breaker_open_delay"`
}

type EventsConfig struct {
	NATSURL       string `key:"natsUrl" json:"nats_url"`
	Stream        string `key:"stream" json:"stream"`
	SubjectPrefix string `key:"subjectPrefix" json:"subject_prefix"`
}

type HTTPConfig struct {
	Host            string        `key:"host" json:"host"`
	Port            int           `key:"port" json:"port"`
	ShutdownTimeout time.Duration `key:"shutdownTimeout" json:"shutdown_timeout"`
}
