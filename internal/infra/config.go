package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config: корневая структура конфигурации гейта и консоли.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Gate     GateConfig     `mapstructure:"gate"`
	Limits   LimitsConfig   `mapstructure:"limits"`
	Engine   EngineConfig   `mapstructure:"engine"`
	GitHub   GitHubConfig   `mapstructure:"github"`
	Health   HealthConfig   `mapstructure:"health"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	MetricsPort  int           `mapstructure:"metrics_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
}

// Addr: адрес для net/http.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig описывает подключение к PostgreSQL (аудит и политики репозиториев).
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (окна допуска и Pub/Sub).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит пути к RSA ключам консоли.
type AuthConfig struct {
	PublicKeyPath  string        `mapstructure:"public_key_path"`
	PrivateKeyPath string        `mapstructure:"private_key_path"` // нужен только консоли
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	PublicKey      []byte
	PrivateKey     []byte
}

// GateConfig: параметры Stage 1.
type GateConfig struct {
	WebhookSecret   string        `mapstructure:"webhook_secret"`
	SignatureMaxAge time.Duration `mapstructure:"signature_max_age"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	RedisAdmission  bool          `mapstructure:"redis_admission"` // общие окна для всех реплик
}

// LimitRule: лимит одного скоупа.
type LimitRule struct {
	Max    int           `mapstructure:"max"`
	Window time.Duration `mapstructure:"window"`
}

// LimitsConfig: четыре скоупа допуска.
type LimitsConfig struct {
	Global     LimitRule `mapstructure:"global"`
	Sender     LimitRule `mapstructure:"sender"`
	Repository LimitRule `mapstructure:"repository"`
	Delivery   LimitRule `mapstructure:"delivery"`
}

// EngineConfig: исполнение действий (Stage 4) и обратная связь (Stage 5).
type EngineConfig struct {
	AuditBufferSize    int           `mapstructure:"audit_buffer_size"`
	AuditFlushInterval time.Duration `mapstructure:"audit_flush_interval"`

	ActionTimeout    time.Duration `mapstructure:"action_timeout"`
	RateLimitDelay   time.Duration `mapstructure:"rate_limit_delay"`
	NetworkDelay     time.Duration `mapstructure:"network_delay"`
	TimelinessTarget time.Duration `mapstructure:"timeliness_target"`

	// Исходящий лимит вызовов GitHub API
	DispatchRPS   float64 `mapstructure:"dispatch_rps"`
	DispatchBurst int     `mapstructure:"dispatch_burst"`

	// Circuit Breaker для downstream API
	CBMaxRequests int           `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
}

// GitHubConfig: клиент для действий (комментарии, метки).
type GitHubConfig struct {
	Token     string   `mapstructure:"token"`
	BaseURL   string   `mapstructure:"base_url"`  // для GitHub Enterprise
	Reviewers []string `mapstructure:"reviewers"` // кого звать в request-reviewers
}

// HealthConfig: зависимости, проверяемые на Stage 3.
type HealthConfig struct {
	ClassifierAddr string        `mapstructure:"classifier_addr"` // gRPC health endpoint, пусто — не проверять
	Timeout        time.Duration `mapstructure:"timeout"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// TracingConfig: спаны стадий пайплайна.
type TracingConfig struct {
	ServiceName string `mapstructure:"service_name"`
	Exporter    string `mapstructure:"exporter"` // stdout, none
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// 2. ENV перекрывает файл: GATE_WEBHOOK_SECRET перекроет gate.webhook_secret
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Дефолты
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 6. Секреты могут прийти напрямую в ENV (Docker/K8s)
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	cfg.Auth.PrivateKey = loadKeyResource(cfg.Auth.PrivateKeyPath, "AUTH_PRIVATE_KEY_DATA")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.max_body_bytes", 1<<20)

	// Ключи без дефолта не видны AutomaticEnv при Unmarshal
	v.SetDefault("database.url", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("auth.public_key_path", "")
	v.SetDefault("auth.private_key_path", "")
	v.SetDefault("auth.token_ttl", time.Hour)
	v.SetDefault("gate.webhook_secret", "")
	v.SetDefault("github.token", "")
	v.SetDefault("github.base_url", "")
	v.SetDefault("health.classifier_addr", "")

	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("redis.addr", "localhost:6379")

	v.SetDefault("gate.signature_max_age", 5*time.Minute)
	v.SetDefault("gate.sweep_interval", time.Minute)
	v.SetDefault("gate.redis_admission", true)

	v.SetDefault("limits.global.max", 5000)
	v.SetDefault("limits.global.window", time.Hour)
	v.SetDefault("limits.sender.max", 100)
	v.SetDefault("limits.sender.window", time.Minute)
	v.SetDefault("limits.repository.max", 500)
	v.SetDefault("limits.repository.window", time.Hour)
	v.SetDefault("limits.delivery.max", 1)
	v.SetDefault("limits.delivery.window", 24*time.Hour)

	v.SetDefault("engine.audit_buffer_size", 1000)
	v.SetDefault("engine.audit_flush_interval", 1*time.Second)
	v.SetDefault("engine.action_timeout", 10*time.Second)
	v.SetDefault("engine.rate_limit_delay", 2*time.Second)
	v.SetDefault("engine.network_delay", 1*time.Second)
	v.SetDefault("engine.timeliness_target", 5*time.Second)
	v.SetDefault("engine.dispatch_rps", 10)
	v.SetDefault("engine.dispatch_burst", 5)
	v.SetDefault("engine.cb_max_requests", 3)
	v.SetDefault("engine.cb_interval", 5*time.Second)
	v.SetDefault("engine.cb_timeout", 30*time.Second)

	v.SetDefault("health.timeout", 2*time.Second)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")

	v.SetDefault("tracing.service_name", "webhook-gate")
	v.SetDefault("tracing.exporter", "none")
}

// loadKeyResource: сначала ENV с самим ключом, потом файл по пути из конфига
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
