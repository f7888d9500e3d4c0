package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the service configuration
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	ServiceBus ServiceBusConfig
	NewRelic   NewRelicConfig
	Firmware   FirmwareConfig
	S3         S3Config
	Jobs       JobsConfig
	Auth       AuthConfig
	Elastic    ElasticConfig
	RateLimit  RateLimitConfig
}

// ServerConfig holds the HTTP server configuration
type ServerConfig struct {
	Port int
	Mode string // debug, release, test
}

// DatabaseConfig holds the database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	LogLevel string
}

// RedisConfig holds the Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	Enabled  bool
}

// ServiceBusConfig holds the Azure Service Bus configuration.
// DispatchQueue receives per-device update commands, EventsQueue receives job progress events.
type ServiceBusConfig struct {
	ConnectionString string
	DispatchQueue    string
	EventsQueue      string
	EventWorkers     int
	EventBuffer      int
}

// NewRelicConfig holds the New Relic configuration
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// AuthConfig holds settings for verifying tokens issued by the identity provider
type AuthConfig struct {
	JWTSecret Secret
	JWTIssuer string
}

// ElasticConfig holds the Elasticsearch audit index configuration
type ElasticConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password Secret
	Index    string
}

// RateLimitConfig holds the API rate limiter configuration
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// InitConfig initializes the configuration using Viper
func InitConfig(cfgFile string) error {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/ota-service")
		viper.SetConfigName("config")
	}

	// OTA_FIRMWARE_MASTERKEY overrides firmware.masterkey
	viper.SetEnvPrefix("OTA")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("No config file found, using defaults and environment variables")
		} else {
			return fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}

	return nil
}

// setDefaults sets default values for configuration
func setDefaults() {
	viper.SetDefault("server.port", 8095)
	viper.SetDefault("server.mode", "debug")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "ota")
	viper.SetDefault("database.password", "ota")
	viper.SetDefault("database.dbname", "ota_service_db")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.loglevel", "warn")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.enabled", true)

	// No default connection string, the mock client is used instead
	viper.SetDefault("servicebus.dispatchqueue", "ota-device-commands")
	viper.SetDefault("servicebus.eventsqueue", "ota-job-events")
	viper.SetDefault("servicebus.eventworkers", 4)
	viper.SetDefault("servicebus.eventbuffer", 1024)

	viper.SetDefault("newrelic.appname", "OTA Service Local")
	viper.SetDefault("newrelic.enabled", false)

	viper.SetDefault("firmware.storagepath", "./storage/firmware")
	viper.SetDefault("firmware.backend", BackendFilesystem)
	viper.SetDefault("firmware.encryptatrest", true)
	viper.SetDefault("firmware.maxuploadbytes", 64<<20)

	viper.SetDefault("s3.region", "us-east-1")
	viper.SetDefault("s3.prefix", "firmware/")

	viper.SetDefault("jobs.startdelay", time.Second)
	viper.SetDefault("jobs.tickinterval", 2*time.Second)
	viper.SetDefault("jobs.parallelcap", 16)
	viper.SetDefault("jobs.rollingbatchsize", 5)
	viper.SetDefault("jobs.partialfailurepolicy", PolicyStrict)
	viper.SetDefault("jobs.staleafter", 10*time.Minute)
	viper.SetDefault("jobs.sweepinterval", time.Minute)

	viper.SetDefault("auth.jwtissuer", "")

	viper.SetDefault("elastic.enabled", false)
	viper.SetDefault("elastic.url", "http://localhost:9200")
	viper.SetDefault("elastic.index", "ota-audit")

	viper.SetDefault("ratelimit.requestspersecond", 50)
	viper.SetDefault("ratelimit.burst", 100)
}

// Load loads the configuration
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: viper.GetInt("server.port"),
			Mode: viper.GetString("server.mode"),
		},
		Database: DatabaseConfig{
			Host:     viper.GetString("database.host"),
			Port:     viper.GetInt("database.port"),
			User:     viper.GetString("database.user"),
			Password: viper.GetString("database.password"),
			DBName:   viper.GetString("database.dbname"),
			SSLMode:  viper.GetString("database.sslmode"),
			LogLevel: viper.GetString("database.loglevel"),
		},
		Redis: RedisConfig{
			Host:     viper.GetString("redis.host"),
			Port:     viper.GetInt("redis.port"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
			Enabled:  viper.GetBool("redis.enabled"),
		},
		ServiceBus: ServiceBusConfig{
			ConnectionString: viper.GetString("servicebus.connectionstring"),
			DispatchQueue:    viper.GetString("servicebus.dispatchqueue"),
			EventsQueue:      viper.GetString("servicebus.eventsqueue"),
			EventWorkers:     viper.GetInt("servicebus.eventworkers"),
			EventBuffer:      viper.GetInt("servicebus.eventbuffer"),
		},
		NewRelic: NewRelicConfig{
			AppName:    viper.GetString("newrelic.appname"),
			LicenseKey: viper.GetString("newrelic.licensekey"),
			Enabled:    viper.GetBool("newrelic.enabled"),
		},
		Firmware: FirmwareConfig{
			StoragePath:    viper.GetString("firmware.storagepath"),
			Backend:        viper.GetString("firmware.backend"),
			MasterKey:      Secret(viper.GetString("firmware.masterkey")),
			EncryptAtRest:  viper.GetBool("firmware.encryptatrest"),
			MaxUploadBytes: viper.GetInt64("firmware.maxuploadbytes"),
		},
		S3: S3Config{
			Bucket:    viper.GetString("s3.bucket"),
			Region:    viper.GetString("s3.region"),
			Endpoint:  viper.GetString("s3.endpoint"),
			AccessKey: viper.GetString("s3.accesskey"),
			SecretKey: Secret(viper.GetString("s3.secretkey")),
			Prefix:    viper.GetString("s3.prefix"),
		},
		Jobs: JobsConfig{
			StartDelay:           viper.GetDuration("jobs.startdelay"),
			TickInterval:         viper.GetDuration("jobs.tickinterval"),
			ParallelCap:          viper.GetInt("jobs.parallelcap"),
			RollingBatchSize:     viper.GetInt("jobs.rollingbatchsize"),
			PartialFailurePolicy: viper.GetString("jobs.partialfailurepolicy"),
			StaleAfter:           viper.GetDuration("jobs.staleafter"),
			SweepInterval:        viper.GetDuration("jobs.sweepinterval"),
		},
		Auth: AuthConfig{
			JWTSecret: Secret(viper.GetString("auth.jwtsecret")),
			JWTIssuer: viper.GetString("auth.jwtissuer"),
		},
		Elastic: ElasticConfig{
			Enabled:  viper.GetBool("elastic.enabled"),
			URL:      viper.GetString("elastic.url"),
			Username: viper.GetString("elastic.username"),
			Password: Secret(viper.GetString("elastic.password")),
			Index:    viper.GetString("elastic.index"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: viper.GetFloat64("ratelimit.requestspersecond"),
			Burst:             viper.GetInt("ratelimit.burst"),
		},
	}

	if err := cfg.Firmware.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Jobs.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
