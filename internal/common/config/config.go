package config

import "fmt"

type Config struct {
	App           AppConfig               `mapstructure:"app"`
	Server        ServerConfig            `mapstructure:"server"`
	Catalog       CatalogConfig           `mapstructure:"catalog"`
	Resolver      ResolverConfig          `mapstructure:"resolver"`
	Repair        RepairConfig            `mapstructure:"repair"`
	Session       SessionConfig           `mapstructure:"session"`
	SessionLog    SessionLogConfig        `mapstructure:"session_log"`
	Camunda       CamundaConfig           `mapstructure:"camunda"`
	Database      DatabaseConfig          `mapstructure:"database"`
	Workers       map[string]WorkerConfig `mapstructure:"workers"`
	Integrations  IntegrationConfig       `mapstructure:"integrations"`
	APIs          APIsConfig              `mapstructure:"apis"`
	Logging       LoggingConfig           `mapstructure:"logging"`
	Observability ObservabilityConfig     `mapstructure:"observability"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Address      string `mapstructure:"address"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // milliseconds
	WriteTimeout int    `mapstructure:"write_timeout"` // milliseconds
}

// CatalogConfig selects where the menu is loaded from: "embedded", "file" or "postgres".
type CatalogConfig struct {
	Source string `mapstructure:"source"`
	Path   string `mapstructure:"path"`
}

type ResolverConfig struct {
	ResolvedThreshold  float64 `mapstructure:"resolved_threshold"`
	AmbiguousThreshold float64 `mapstructure:"ambiguous_threshold"`
	AmbiguityMargin    float64 `mapstructure:"ambiguity_margin"`
	TopK               int     `mapstructure:"top_k"`
	Scorer             string  `mapstructure:"scorer"` // lexical | remote
	CacheEnabled       bool    `mapstructure:"cache_enabled"`
	CacheTTL           int     `mapstructure:"cache_ttl"` // milliseconds
}

type RepairConfig struct {
	ResolutionEscalateAfter int `mapstructure:"resolution_escalate_after"`
	UnknownEscalateAfter    int `mapstructure:"unknown_escalate_after"`
}

type SessionConfig struct {
	TurnTimeout      int     `mapstructure:"turn_timeout"`   // milliseconds
	IdleTTL          int     `mapstructure:"idle_ttl"`       // milliseconds
	SweepInterval    int     `mapstructure:"sweep_interval"` // milliseconds
	MinASRConfidence float64 `mapstructure:"min_asr_confidence"`
	UpsellEnabled    bool    `mapstructure:"upsell_enabled"`
}

type SessionLogConfig struct {
	Buffer             int    `mapstructure:"buffer"`
	Postgres           bool   `mapstructure:"postgres"`
	Elasticsearch      bool   `mapstructure:"elasticsearch"`
	ElasticsearchIndex string `mapstructure:"elasticsearch_index"`
}

type CamundaConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"` // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"`
}

type IntegrationConfig struct {
	AWS struct {
		Region string `mapstructure:"region"`
		SNS    struct {
			Enabled        bool   `mapstructure:"enabled"`
			TicketTopicARN string `mapstructure:"ticket_topic_arn"`
		} `mapstructure:"sns"`
	} `mapstructure:"aws"`

	MQTT struct {
		Enabled     bool   `mapstructure:"enabled"`
		BrokerURL   string `mapstructure:"broker_url"`
		ClientID    string `mapstructure:"client_id"`
		Username    string `mapstructure:"username"`
		Password    string `mapstructure:"password"`
		TopicPrefix string `mapstructure:"topic_prefix"`
	} `mapstructure:"mqtt"`
}

type APIsConfig struct {
	GenAI struct {
		BaseURL string `mapstructure:"base_url"`
		APIKey  string `mapstructure:"api_key"`
		Timeout int    `mapstructure:"timeout"` // milliseconds
	} `mapstructure:"genai"`

	Similarity struct {
		BaseURL string `mapstructure:"base_url"`
		APIKey  string `mapstructure:"api_key"`
		Timeout int    `mapstructure:"timeout"` // milliseconds
	} `mapstructure:"similarity"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

type ObservabilityConfig struct {
	ServiceName    string `mapstructure:"service_name"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
}
