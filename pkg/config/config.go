package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

// Component names accepted in app.components.
const (
	ComponentMarketState = "marketstate"
	ComponentAttention   = "attention"
	ComponentScanner     = "scanner"
	ComponentRanking     = "ranking"
	ComponentExecution   = "execution"
	ComponentTruthTest   = "truthtest"
)

// AllComponents lists every pipeline stage in dependency order.
var AllComponents = []string{
	ComponentMarketState,
	ComponentAttention,
	ComponentScanner,
	ComponentRanking,
	ComponentExecution,
	ComponentTruthTest,
}

type Config struct {
	Environment string `yaml:"environment" default:"development"`
	App         struct {
		Components []string `yaml:"components"`
		Timezone   string   `yaml:"timezone" default:"America/New_York"`
	} `yaml:"app"`
	Log struct {
		Level             string        `yaml:"level" default:"info"`
		Format            string        `yaml:"format" default:"console"`
		Output            string        `yaml:"output" default:"stdout"`
		CollectorInterval time.Duration `yaml:"collector_interval" default:"30s"`
		ErrorQueue        string        `yaml:"error_queue" default:"ops.errors"`
	} `yaml:"log"`
	Server struct {
		Host            string        `yaml:"host" default:"0.0.0.0"`
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		CORSOrigins     []string      `yaml:"cors_origins"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"snappy"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"5"`
			Linger       time.Duration `yaml:"linger" default:"10ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupPrefix string        `yaml:"group_prefix" default:"signalpipe"`
			FromStart   bool          `yaml:"from_start"`
			RetryMax    int           `yaml:"retry_max" default:"3"`
			BackoffMin  time.Duration `yaml:"backoff_min" default:"200ms"`
			BackoffMax  time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic    string        `yaml:"dlq_topic" default:"signalpipe-dlq"`
			MinBytes    int           `yaml:"min_bytes" default:"1"`
			MaxBytes    int           `yaml:"max_bytes" default:"10485760"`
		} `yaml:"consumer"`
		Topics struct {
			MarketState   string `yaml:"market_state" default:"market-state-changed"`
			Attention     string `yaml:"attention" default:"attention-state-changed"`
			Candidates    string `yaml:"candidates" default:"active-candidates"`
			Opportunities string `yaml:"opportunities" default:"opportunity-update"`
			Trades        string `yaml:"trades" default:"trade-update"`
			Calibration   string `yaml:"calibration" default:"calibration-update"`
		} `yaml:"topics"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"market"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
		InitSchema       bool          `yaml:"init_schema"`
	} `yaml:"clickhouse"`
	Postgres struct {
		DSN            string        `yaml:"dsn"`
		MaxConns       int32         `yaml:"max_conns" default:"10"`
		MinConns       int32         `yaml:"min_conns" default:"1"`
		ConnectTimeout time.Duration `yaml:"connect_timeout" default:"5s"`
		Migrate        bool          `yaml:"migrate"`
	} `yaml:"postgres"`
	Redis struct {
		Host     string        `yaml:"host" default:"localhost"`
		Port     int           `yaml:"port" default:"6379"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		PoolSize int           `yaml:"pool_size" default:"10"`
		Prefix   string        `yaml:"prefix" default:"signalpipe"`
		Mode     string        `yaml:"mode" default:"redis"` // redis | layered | memory
		L1TTL    time.Duration `yaml:"l1_ttl" default:"2s"`

		MemoryMaxSize int `yaml:"memory_max_size" default:"1000"`
	} `yaml:"redis"`
	Queue struct {
		Workers    int           `yaml:"workers" default:"1"`
		RetryLimit int           `yaml:"retry_limit" default:"2"`
		RetryDelay time.Duration `yaml:"retry_delay" default:"30s"`
		KeyPrefix  string        `yaml:"key_prefix" default:"signalpipe:queue"`
	} `yaml:"queue"`
	Calendar struct {
		ExtraHolidays []string `yaml:"extra_holidays"`
	} `yaml:"calendar"`
	Volatility struct {
		IndexURL       string        `yaml:"index_url"`
		IndexSymbol    string        `yaml:"index_symbol" default:"VIX"`
		APIKey         string        `yaml:"api_key"`
		StreamURL      string        `yaml:"stream_url"`
		ETFSymbol      string        `yaml:"etf_symbol" default:"VIXY"`
		IndexElevated  float64       `yaml:"index_elevated" default:"20"`
		IndexHigh      float64       `yaml:"index_high" default:"25"`
		ETFElevated    float64       `yaml:"etf_elevated" default:"20"`
		ETFHigh        float64       `yaml:"etf_high" default:"25"`
		Timeout        time.Duration `yaml:"timeout" default:"5s"`
		MaxStaleness   time.Duration `yaml:"max_staleness" default:"5m"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
	} `yaml:"volatility"`
	MarketState struct {
		PollInterval time.Duration `yaml:"poll_interval" default:"60s"`
		EventRisk    bool          `yaml:"event_risk"`
	} `yaml:"market_state"`
	Attention struct {
		PollInterval time.Duration `yaml:"poll_interval" default:"60s"`
		Lookback     time.Duration `yaml:"lookback" default:"90m"`
		FetchTimeout time.Duration `yaml:"fetch_timeout" default:"10s"`
	} `yaml:"attention"`
	Scanner struct {
		PollInterval time.Duration `yaml:"poll_interval" default:"60s"`
		Universe     []string      `yaml:"universe"`
		Workers      int           `yaml:"workers" default:"8"`
		FetchTimeout time.Duration `yaml:"fetch_timeout" default:"10s"`
		CandidateTTL time.Duration `yaml:"candidate_ttl" default:"300s"`
	} `yaml:"scanner"`
	Ranking struct {
		TopN         int           `yaml:"top_n" default:"10"`
		PersistTopN  int           `yaml:"persist_top_n" default:"5"`
		RankTTL      time.Duration `yaml:"rank_ttl" default:"60s"`
		Workers      int           `yaml:"workers" default:"4"`
		FetchTimeout time.Duration `yaml:"fetch_timeout" default:"10s"`
	} `yaml:"ranking"`
	Execution struct {
		Mode           string        `yaml:"mode" default:"paper"`
		EnabledOnStart bool          `yaml:"enabled_on_start"`
		MinProbability float64       `yaml:"min_probability" default:"0.90"`
		Cooldown       time.Duration `yaml:"cooldown" default:"60m"`
		SeenTTL        time.Duration `yaml:"seen_ttl" default:"24h"`
		Quantity       int64         `yaml:"quantity" default:"1"`
		StartingCash   string        `yaml:"starting_cash" default:"100000"`
		BrokerTimeout  time.Duration `yaml:"broker_timeout" default:"10s"`
	} `yaml:"execution"`
	TruthTest struct {
		RunAt          string        `yaml:"run_at" default:"16:05"`
		WindowDays     int           `yaml:"window_days" default:"30"`
		LookbackDays   int           `yaml:"lookback_days" default:"7"`
		EntryTolerance time.Duration `yaml:"entry_tolerance" default:"2m"`
		FetchTimeout   time.Duration `yaml:"fetch_timeout" default:"15s"`
	} `yaml:"truth_test"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes, applies defaults and validates.
func Parse(b []byte) (*Config, error) {
	c, err := decode(b)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
// Validation runs after the overrides so env can repair a file value.
func LoadWithEnv(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := decode(b)
	if err != nil {
		return nil, err
	}
	c.ApplyEnv(os.Getenv)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func decode(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if len(c.App.Components) == 0 {
		c.App.Components = append([]string(nil), AllComponents...)
	}
	return &c, nil
}

// ApplyEnv overrides fields from environment variables resolved by getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("COMPONENTS"); v != "" {
		c.App.Components = splitList(v)
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v := getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := getenv("REDIS_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Redis.Port = p
		}
	}
	if v := getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := getenv("DATABASE_URL"); v != "" {
		c.Postgres.DSN = v
	}
	if v := getenv("VOLATILITY_API_KEY"); v != "" {
		c.Volatility.APIKey = v
	}
	if v := getenv("UNIVERSE"); v != "" {
		c.Scanner.Universe = splitList(v)
	}
	if v := getenv("EXECUTION_MODE"); v != "" {
		c.Execution.Mode = strings.ToLower(strings.TrimSpace(v))
	}
	if v := getenv("EVENT_RISK"); v != "" {
		c.MarketState.EventRisk = v == "1" || strings.EqualFold(v, "true")
	}
}

// Enabled reports whether the named component should run in this process.
func (c *Config) Enabled(component string) bool {
	for _, name := range c.App.Components {
		if name == component {
			return true
		}
	}
	return false
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	known := make(map[string]struct{}, len(AllComponents))
	for _, name := range AllComponents {
		known[name] = struct{}{}
	}
	for _, name := range c.App.Components {
		if _, ok := known[name]; !ok {
			return fmt.Errorf("app.components: unknown component '%s'", name)
		}
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty")
	}
	switch c.Redis.Mode {
	case "redis", "layered", "memory":
	default:
		return fmt.Errorf("redis.mode must be 'redis', 'layered' or 'memory', got '%s'", c.Redis.Mode)
	}
	if c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required")
	}
	if c.Enabled(ComponentExecution) && c.Execution.Mode != "paper" {
		return fmt.Errorf("execution.mode must be 'paper', got '%s'", c.Execution.Mode)
	}
	if c.Execution.MinProbability <= 0 || c.Execution.MinProbability > 1 {
		return fmt.Errorf("execution.min_probability must be in (0,1], got %v", c.Execution.MinProbability)
	}
	if _, err := time.Parse("15:04", c.TruthTest.RunAt); err != nil {
		return fmt.Errorf("truth_test.run_at must be HH:MM: %w", err)
	}
	for _, d := range c.Calendar.ExtraHolidays {
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return fmt.Errorf("calendar.extra_holidays: %w", err)
		}
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
