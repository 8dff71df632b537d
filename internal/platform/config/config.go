package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full process configuration, grouped by concern.
type Config struct {
	Server       Server
	Database     Database
	Redis        RedisConfig
	Kafka        Kafka
	Ledger       Ledger
	ContentStore ContentStore
	Issuance     Issuance
	Verification Verification
	Reconcile    Reconcile
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	JWTSigningKey   string
	JWTIssuer       string
	ShutdownTimeout time.Duration
	LogLevel        string
	// AdminToken guards operator routes; empty disables them.
	AdminToken string
}

type Database struct {
	// URL is a lib/pq DSN. Empty selects the in-memory stores.
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	// URL is a redis:// URL. Empty disables the payload cache.
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PayloadTTL   time.Duration
}

type Kafka struct {
	// Brokers empty disables the outbox relay.
	Brokers       []string
	ClientID      string
	TopicPrefix   string
	RelayInterval time.Duration
	RelayBatch    int
}

type Ledger struct {
	// RPCURL or ContractAddress empty selects the deterministic mock ledger.
	RPCURL          string
	ContractAddress string
	PrivateKey      string
	ChainID         int64
	ReceiptTimeout  time.Duration
}

// UseMock reports whether the process should run against the mock ledger.
func (l Ledger) UseMock() bool {
	return l.RPCURL == "" || l.ContractAddress == "" || l.PrivateKey == ""
}

type ContentStore struct {
	// Backend is "pinata" or "local".
	Backend        string
	PinataBaseURL  string
	PinataGateway  string
	PinataJWT      string
	LocalPath      string
	RequestTimeout time.Duration
}

type Issuance struct {
	BatchWorkers        int
	ContentStoreTimeout time.Duration
	LedgerTimeout       time.Duration
	PersistTimeout      time.Duration
}

type Verification struct {
	RequireLedger   bool
	LedgerTimeout   time.Duration
	PayloadTimeout  time.Duration
	BreakerFailures int
	BreakerCooldown time.Duration
}

type Reconcile struct {
	Enabled  bool
	Schedule string
	Batch    int
}

// FromEnv loads an optional .env file and builds Config from environment
// variables so main stays lean.
func FromEnv() Config {
	_ = godotenv.Load()

	return Config{
		Server: Server{
			Addr:            getEnv("CERTLEDGER_ADDR", ":8080"),
			JWTSigningKey:   getEnv("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			JWTIssuer:       getEnv("JWT_ISSUER", ""),
			ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
			LogLevel:        getEnv("LOG_LEVEL", "info"),
			AdminToken:      getEnv("ADMIN_TOKEN", ""),
		},
		Database: Database{
			URL:             getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getInt("DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    getInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:          getEnv("REDIS_URL", ""),
			PoolSize:     getInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDuration("REDIS_DIAL_TIMEOUT", 2*time.Second),
			ReadTimeout:  getDuration("REDIS_READ_TIMEOUT", time.Second),
			WriteTimeout: getDuration("REDIS_WRITE_TIMEOUT", time.Second),
			PayloadTTL:   getDuration("REDIS_PAYLOAD_TTL", 24*time.Hour),
		},
		Kafka: Kafka{
			Brokers:       getList("KAFKA_BROKERS"),
			ClientID:      getEnv("KAFKA_CLIENT_ID", "certledger"),
			TopicPrefix:   getEnv("KAFKA_AUDIT_TOPIC_PREFIX", "certledger.audit"),
			RelayInterval: getDuration("OUTBOX_RELAY_INTERVAL", 2*time.Second),
			RelayBatch:    getInt("OUTBOX_RELAY_BATCH", 100),
		},
		Ledger: Ledger{
			RPCURL:          getEnv("LEDGER_RPC_URL", ""),
			ContractAddress: getEnv("LEDGER_CONTRACT_ADDRESS", ""),
			PrivateKey:      getEnv("LEDGER_PRIVATE_KEY", ""),
			ChainID:         int64(getInt("LEDGER_CHAIN_ID", 80002)),
			ReceiptTimeout:  getDuration("LEDGER_RECEIPT_TIMEOUT", 90*time.Second),
		},
		ContentStore: ContentStore{
			Backend:        getEnv("CONTENT_STORE_BACKEND", "local"),
			PinataBaseURL:  getEnv("PINATA_BASE_URL", "https://api.pinata.cloud"),
			PinataGateway:  getEnv("PINATA_GATEWAY_URL", "https://gateway.pinata.cloud/ipfs"),
			PinataJWT:      getEnv("PINATA_JWT", ""),
			LocalPath:      getEnv("CONTENT_STORE_PATH", "./data/content"),
			RequestTimeout: getDuration("CONTENT_STORE_TIMEOUT", 15*time.Second),
		},
		Issuance: Issuance{
			BatchWorkers:        getInt("ISSUANCE_BATCH_WORKERS", 4),
			ContentStoreTimeout: getDuration("ISSUANCE_CONTENT_STORE_TIMEOUT", 20*time.Second),
			LedgerTimeout:       getDuration("ISSUANCE_LEDGER_TIMEOUT", 2*time.Minute),
			PersistTimeout:      getDuration("ISSUANCE_PERSIST_TIMEOUT", 10*time.Second),
		},
		Verification: Verification{
			RequireLedger:   getBool("VERIFY_REQUIRE_LEDGER", false),
			LedgerTimeout:   getDuration("VERIFY_LEDGER_TIMEOUT", 5*time.Second),
			PayloadTimeout:  getDuration("VERIFY_PAYLOAD_TIMEOUT", 5*time.Second),
			BreakerFailures: getInt("VERIFY_LEDGER_BREAKER_FAILURES", 5),
			BreakerCooldown: getDuration("VERIFY_LEDGER_BREAKER_COOLDOWN", 30*time.Second),
		},
		Reconcile: Reconcile{
			Enabled:  getBool("RECONCILE_ENABLED", true),
			Schedule: getEnv("RECONCILE_SCHEDULE", "@every 5m"),
			Batch:    getInt("RECONCILE_BATCH", 50),
		},
	}
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
