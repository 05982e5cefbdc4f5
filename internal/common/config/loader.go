package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configs/config.yaml, merges config.<APP_ENVIRONMENT>.yaml over it, expands
// ${VAR} placeholders and applies environment overrides.
func Load() (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig()

	return finish(v)
}

// LoadFromFile loads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return finish(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("session.upsell_enabled", true)
	v.SetDefault("catalog.source", "embedded")
	v.SetDefault("resolver.scorer", "lexical")
	return v
}

func finish(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
		"../../../.env",
	}
	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			expanded := os.ExpandEnv(strVal)
			if expanded != strVal && expanded != "" {
				v.Set(key, expanded)
			}
		}
	}
}

func overrideEmptyConfig(cfg *Config) {
	setIfEmpty(&cfg.APIs.GenAI.APIKey, "GENAI_API_KEY")
	setIfEmpty(&cfg.APIs.Similarity.APIKey, "SIMILARITY_API_KEY")
	setIfEmpty(&cfg.Database.Postgres.User, "DB_USER")
	setIfEmpty(&cfg.Database.Postgres.Password, "DB_PASSWORD")
	setIfEmpty(&cfg.Database.Redis.Password, "REDIS_PASSWORD")
	setIfEmpty(&cfg.Integrations.MQTT.Password, "MQTT_PASSWORD")
	setIfEmpty(&cfg.Integrations.AWS.SNS.TicketTopicARN, "TICKET_TOPIC_ARN")
}

func setIfEmpty(field *string, envKey string) {
	if *field != "" {
		return
	}
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "drivethru-orchestrator"
	}

	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10000
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 15000
	}

	// Resolver defaults are the documented thresholds: 0.80 resolved, 0.50 ambiguous band,
	// 0.05 ambiguity margin.
	if cfg.Resolver.ResolvedThreshold == 0 {
		cfg.Resolver.ResolvedThreshold = 0.80
	}
	if cfg.Resolver.AmbiguousThreshold == 0 {
		cfg.Resolver.AmbiguousThreshold = 0.50
	}
	if cfg.Resolver.AmbiguityMargin == 0 {
		cfg.Resolver.AmbiguityMargin = 0.05
	}
	if cfg.Resolver.TopK == 0 {
		cfg.Resolver.TopK = 3
	}
	if cfg.Resolver.CacheTTL == 0 {
		cfg.Resolver.CacheTTL = 600000
	}

	if cfg.Repair.ResolutionEscalateAfter == 0 {
		cfg.Repair.ResolutionEscalateAfter = 2
	}
	if cfg.Repair.UnknownEscalateAfter == 0 {
		cfg.Repair.UnknownEscalateAfter = 2
	}

	if cfg.Session.TurnTimeout == 0 {
		cfg.Session.TurnTimeout = 8000
	}
	if cfg.Session.IdleTTL == 0 {
		cfg.Session.IdleTTL = 300000
	}
	if cfg.Session.SweepInterval == 0 {
		cfg.Session.SweepInterval = 30000
	}
	if cfg.Session.MinASRConfidence == 0 {
		cfg.Session.MinASRConfidence = 0.5
	}

	if cfg.SessionLog.Buffer == 0 {
		cfg.SessionLog.Buffer = 256
	}
	if cfg.SessionLog.ElasticsearchIndex == "" {
		cfg.SessionLog.ElasticsearchIndex = "conversation-turns"
	}

	if cfg.Camunda.MaxJobsActive == 0 {
		cfg.Camunda.MaxJobsActive = 10
	}
	if cfg.Camunda.Timeout == 0 {
		cfg.Camunda.Timeout = 30000
	}
	if cfg.Camunda.RequestTimeout == 0 {
		cfg.Camunda.RequestTimeout = 30000
	}

	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}

	if cfg.Integrations.AWS.Region == "" {
		cfg.Integrations.AWS.Region = "us-east-1"
	}
	if cfg.Integrations.MQTT.ClientID == "" {
		cfg.Integrations.MQTT.ClientID = "drivethru-orchestrator"
	}
	if cfg.Integrations.MQTT.TopicPrefix == "" {
		cfg.Integrations.MQTT.TopicPrefix = "drivethru"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = cfg.App.Name
	}

	for key, worker := range cfg.Workers {
		if worker.MaxJobsActive == 0 {
			worker.MaxJobsActive = 5
		}
		if worker.Timeout == 0 {
			worker.Timeout = 30000
		}
		if worker.MaxRetries == 0 {
			worker.MaxRetries = 3
		}
		cfg.Workers[key] = worker
	}

	if cfg.APIs.GenAI.Timeout == 0 {
		cfg.APIs.GenAI.Timeout = 4000
	}
	if cfg.APIs.Similarity.Timeout == 0 {
		cfg.APIs.Similarity.Timeout = 1500
	}
}

func validateConfig(cfg *Config) error {
	r := cfg.Resolver
	if r.AmbiguousThreshold < 0 || r.ResolvedThreshold > 1 || r.AmbiguousThreshold > r.ResolvedThreshold {
		return fmt.Errorf("resolver thresholds must satisfy 0 <= ambiguous_threshold <= resolved_threshold <= 1")
	}
	if r.AmbiguityMargin < 0 || r.AmbiguityMargin > 1 {
		return fmt.Errorf("resolver.ambiguity_margin must be within [0, 1]")
	}
	if r.TopK < 2 {
		return fmt.Errorf("resolver.top_k must be at least 2")
	}

	switch r.Scorer {
	case "lexical":
	case "remote":
		if cfg.APIs.Similarity.BaseURL == "" {
			return fmt.Errorf("apis.similarity.base_url is required for the remote scorer")
		}
	default:
		return fmt.Errorf("resolver.scorer must be lexical or remote, got %q", r.Scorer)
	}

	s := cfg.Session
	if s.TurnTimeout <= 0 || s.IdleTTL <= 0 || s.SweepInterval <= 0 {
		return fmt.Errorf("session.turn_timeout, session.idle_ttl and session.sweep_interval must be positive")
	}
	if s.MinASRConfidence < 0 || s.MinASRConfidence > 1 {
		return fmt.Errorf("session.min_asr_confidence must be within [0, 1]")
	}

	if r.CacheEnabled && cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required when resolver.cache_enabled is set")
	}

	switch cfg.Catalog.Source {
	case "embedded":
	case "file":
		if cfg.Catalog.Path == "" {
			return fmt.Errorf("catalog.path is required for the file source")
		}
	case "postgres":
		if err := validatePostgres(cfg.Database.Postgres); err != nil {
			return err
		}
	default:
		return fmt.Errorf("catalog.source must be embedded, file or postgres, got %q", cfg.Catalog.Source)
	}

	if cfg.SessionLog.Postgres {
		if err := validatePostgres(cfg.Database.Postgres); err != nil {
			return err
		}
	}
	if cfg.SessionLog.Elasticsearch && len(cfg.Database.Elasticsearch.Addresses) == 0 {
		return fmt.Errorf("database.elasticsearch.addresses is required when session_log.elasticsearch is set")
	}

	if cfg.Camunda.Enabled && cfg.Camunda.BrokerAddress == "" {
		return fmt.Errorf("camunda.broker_address is required")
	}
	if cfg.Integrations.AWS.SNS.Enabled && cfg.Integrations.AWS.SNS.TicketTopicARN == "" {
		return fmt.Errorf("integrations.aws.sns.ticket_topic_arn is required")
	}
	if cfg.Integrations.MQTT.Enabled && cfg.Integrations.MQTT.BrokerURL == "" {
		return fmt.Errorf("integrations.mqtt.broker_url is required")
	}
	if cfg.APIs.GenAI.BaseURL == "" {
		return fmt.Errorf("apis.genai.base_url is required")
	}

	return nil
}

func validatePostgres(p PostgresConfig) error {
	if p.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if p.Database == "" {
		return fmt.Errorf("database.postgres.database is required")
	}
	if p.User == "" {
		return fmt.Errorf("database.postgres.user is required")
	}
	return nil
}

func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

func GetWorkerConfig(cfg *Config, workerName string) WorkerConfig {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker
	}
	return WorkerConfig{
		Enabled:       true,
		MaxJobsActive: 5,
		Timeout:       30000,
		MaxRetries:    3,
	}
}

func IsWorkerEnabled(cfg *Config, workerName string) bool {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker.Enabled
	}
	return true
}
