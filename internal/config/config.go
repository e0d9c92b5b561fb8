package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Cache backends.
const (
	CacheMemory   = "memory"
	CacheSQLite   = "sqlite"
	CachePostgres = "postgres"
)

// Event transports.
const (
	TransportKafka = "kafka"
	TransportNATS  = "nats"
	TransportNone  = "none"
)

type Config struct {
	HTTPAddr string
	LogLevel string

	RemoteBaseURL string
	RemoteTimeout time.Duration

	DeliveryRateLimit float64
	DeliveryRateBurst int
	DeliveryRefresh   time.Duration

	RefreshInterval time.Duration

	CacheBackend   string
	CacheTTL       time.Duration
	CacheNamespace string
	SQLitePath     string
	PG             Postgres

	EventsTransport string
	Kafka           Kafka
	NATSURL         string
	NATSSubject     string

	OTelExporterURL string
	OTelServiceName string
}

type Postgres struct {
	Host     string
	Port     int
	User     string
	Password string
	DB       string
}

type Kafka struct {
	Brokers  []string
	Topic    string
	Group    string
	DLQTopic string
}

// Load reads an optional .env file and then the environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

func FromEnv() (Config, error) {
	var errs []string
	intVar := func(key string, def int) int {
		v, err := Int(key, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}
	floatVar := func(key string, def float64) float64 {
		v, err := Float(key, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}
	durVar := func(key string, def time.Duration) time.Duration {
		v, err := Duration(key, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}

	cfg := Config{
		HTTPAddr:          Getenv("HTTP_ADDR", ":8080"),
		LogLevel:          Getenv("LOG_LEVEL", "info"),
		RemoteBaseURL:     Getenv("REMOTE_BASE_URL", "http://localhost:8090/api"),
		RemoteTimeout:     durVar("REMOTE_TIMEOUT", 10*time.Second),
		DeliveryRateLimit: floatVar("DELIVERY_RATE_LIMIT", 5),
		DeliveryRateBurst: intVar("DELIVERY_RATE_BURST", 5),
		DeliveryRefresh:   durVar("DELIVERY_REFRESH_AFTER", 0),
		RefreshInterval:   durVar("REFRESH_INTERVAL", time.Minute),
		CacheBackend:      strings.ToLower(Getenv("CACHE_BACKEND", CacheMemory)),
		CacheTTL:          durVar("CACHE_TTL", 5*time.Minute),
		CacheNamespace:    Getenv("CACHE_NAMESPACE", "ordersync"),
		SQLitePath:        Getenv("SQLITE_PATH", "ordersync.db"),
		PG: Postgres{
			Host:     Getenv("PG_HOST", "localhost"),
			Port:     intVar("PG_PORT", 5432),
			User:     Getenv("PG_USER", "ordersync"),
			Password: Getenv("PG_PASSWORD", "ordersync"),
			DB:       Getenv("PG_DB", "ordersync"),
		},
		EventsTransport: strings.ToLower(Getenv("EVENTS_TRANSPORT", TransportKafka)),
		Kafka: Kafka{
			Brokers:  List("KAFKA_BROKER", []string{"localhost:9092"}),
			Topic:    Getenv("KAFKA_TOPIC", "order-events"),
			Group:    Getenv("KAFKA_GROUP", "ordersync"),
			DLQTopic: os.Getenv("KAFKA_DLQ_TOPIC"),
		},
		NATSURL:         Getenv("NATS_URL", "nats://localhost:4222"),
		NATSSubject:     Getenv("NATS_SUBJECT", "orders.events"),
		OTelExporterURL: os.Getenv("OTEL_EXPORTER_URL"),
		OTelServiceName: Getenv("OTEL_SERVICE_NAME", "ordersync"),
	}

	switch cfg.CacheBackend {
	case CacheMemory, CacheSQLite, CachePostgres:
	default:
		errs = append(errs, fmt.Sprintf("CACHE_BACKEND: unknown backend %q", cfg.CacheBackend))
	}
	switch cfg.EventsTransport {
	case TransportKafka, TransportNATS, TransportNone:
	default:
		errs = append(errs, fmt.Sprintf("EVENTS_TRANSPORT: unknown transport %q", cfg.EventsTransport))
	}

	if len(errs) > 0 {
		return cfg, fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

func Getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func Int(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def, fmt.Errorf("%s: %w", k, err)
	}
	return n, nil
}

func Float(k string, def float64) (float64, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return def, fmt.Errorf("%s: %w", k, err)
	}
	return f, nil
}

// Duration accepts Go durations ("90s") or plain milliseconds ("1500").
func Duration(k string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def, nil
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", k, err)
	}
	return d, nil
}

// List splits a comma separated value, dropping blanks.
func List(k string, def []string) []string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
