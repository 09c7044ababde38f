package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DatabaseConfig holds PostgreSQL database connection settings.
type DatabaseConfig struct {
	Host               string
	Port               string
	User               string
	Password           string
	Name               string
	SSLMode            string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetimeSec int
	// QueryTimeout bounds each statement issued while processing a request.
	QueryTimeout time.Duration
}

// MinIOConfig holds object storage settings for MinIO.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// S3Config holds settings for the AWS SDK backed object storage.
type S3Config struct {
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	Bucket       string
	UsePathStyle bool
}

// StorageConfig selects where final (scrubbed) artifacts are written.
// Backend is one of "local", "minio" or "s3".
type StorageConfig struct {
	Backend       string
	LocalDir      string
	PresignExpiry time.Duration
	// Timeout bounds each object write, read-open and delete.
	Timeout time.Duration
	MinIO         MinIOConfig
	S3            S3Config
}

// UploadConfig holds the validation limits applied to every upload.
type UploadConfig struct {
	MaxSize        int64
	AllowedTypes   []string
	ScratchDir     string
	DownloadPrefix string
}

// StrategyConfig is one entry of the ordered scrubbing chain.
type StrategyConfig struct {
	Name    string
	Enabled bool
}

// SSHConfig configures the remote-shell scrub runner.
type SSHConfig struct {
	Addr           string
	User           string
	KeyFile        string
	KnownHostsFile string
}

// ScrubConfig configures the metadata scrubbing chain and the runner backend
// used to invoke external tools.
type ScrubConfig struct {
	Strategies       []StrategyConfig
	Runner           string
	Timeout          time.Duration
	ProbeTimeout     time.Duration
	ProbeNegativeTTL time.Duration
	SSH              SSHConfig
}

// ScanConfig configures the optional malware scan. Empty ClamscanPath disables it.
type ScanConfig struct {
	ClamscanPath string
	Timeout      time.Duration
}

// ContentStoreConfig configures the content-addressable store. Empty Backend disables it.
type ContentStoreConfig struct {
	Backend       string
	Endpoint      string
	ProjectID     string
	ProjectSecret string
	Bucket        string
	UseSSL        bool
	Timeout       time.Duration
}

// LedgerConfig configures the provenance ledger. Anything other than a live mode
// with an RPC endpoint in production runs the simulated backend.
type LedgerConfig struct {
	Mode            string
	RPCURL          string
	PrivateKey      string
	ContractAddress string
	Timeout         time.Duration
	ReceiptPoll     time.Duration
}

// AuthConfig configures owner resolution. An empty JWTSecret trusts the X-Owner-ID header.
type AuthConfig struct {
	JWTSecret string
}

// AppConfig is the centralized configuration struct for the application.
// It is populated from environment variables. Sensitive values are not hardcoded.
type AppConfig struct {
	AppHost       string
	Port          string
	AppEnv        string
	Location      string
	HashAlgorithm string
	Database      DatabaseConfig
	Storage       StorageConfig
	Upload        UploadConfig
	Scrub         ScrubConfig
	Scan          ScanConfig
	ContentStore  ContentStoreConfig
	Ledger        LedgerConfig
	Auth          AuthConfig
}

// DefaultMaxUploadSize is 10 MiB.
const DefaultMaxUploadSize int64 = 10 * 1024 * 1024

var defaultAllowedTypes = []string{
	"image/jpeg",
	"image/png",
	"application/pdf",
	"text/plain",
}

// Load reads configuration from environment variables.
// A .env file can be auto-loaded by importing: _ "github.com/joho/godotenv/autoload"
// This function does not require a .env file; real environment variables take precedence.
func Load() *AppConfig {
	return &AppConfig{
		AppHost:       getEnv("APP_HOST", "localhost:8080"),
		Port:          getEnv("PORT", "8080"), // default only for non-sensitive value
		AppEnv:        getEnv("APP_ENV", "development"),
		Location:      getEnv("TZ_LOCATION", "UTC"),
		HashAlgorithm: getEnv("HASH_ALGORITHM", "sha256"),
		Database: DatabaseConfig{
			Host:               getEnv("DB_HOST", ""),
			Port:               getEnv("DB_PORT", "5432"),
			User:               getEnv("DB_USER", ""),
			Password:           getEnv("DB_PASSWORD", ""),
			Name:               getEnv("DB_NAME", ""),
			SSLMode:            getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:       getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:       getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetimeSec: getEnvInt("DB_CONN_MAX_LIFETIME_SEC", 300),
			QueryTimeout:       getEnvDuration("DB_QUERY_TIMEOUT", 10*time.Second),
		},
		Storage: StorageConfig{
			Backend:       getEnv("STORAGE_BACKEND", "local"),
			LocalDir:      getEnv("STORAGE_LOCAL_DIR", "uploads"),
			PresignExpiry: getEnvDuration("STORAGE_PRESIGN_EXPIRY", 15*time.Minute),
			Timeout:       getEnvDuration("STORAGE_TIMEOUT", 60*time.Second),
			MinIO: MinIOConfig{
				Endpoint:  getEnv("MINIO_ENDPOINT", ""),
				AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
				SecretKey: getEnv("MINIO_SECRET_KEY", ""),
				Bucket:    getEnv("MINIO_BUCKET", ""),
				UseSSL:    getEnvBool("MINIO_USE_SSL", false),
			},
			S3: S3Config{
				Region:       getEnv("S3_REGION", "us-east-1"),
				Endpoint:     getEnv("S3_ENDPOINT", ""),
				AccessKey:    getEnv("S3_ACCESS_KEY", ""),
				SecretKey:    getEnv("S3_SECRET_KEY", ""),
				Bucket:       getEnv("S3_BUCKET", ""),
				UsePathStyle: getEnvBool("S3_USE_PATH_STYLE", false),
			},
		},
		Upload: UploadConfig{
			MaxSize:        getEnvInt64("UPLOAD_MAX_SIZE", DefaultMaxUploadSize),
			AllowedTypes:   getEnvList("UPLOAD_ALLOWED_TYPES", defaultAllowedTypes),
			ScratchDir:     getEnv("UPLOAD_SCRATCH_DIR", filepath.Join(os.TempDir(), "scrubapi")),
			DownloadPrefix: getEnv("UPLOAD_DOWNLOAD_PREFIX", "/api/files"),
		},
		Scrub:        loadScrub(),
		Scan:         ScanConfig{ClamscanPath: getEnv("SCAN_CLAMSCAN_PATH", ""), Timeout: getEnvDuration("SCAN_TIMEOUT", 60*time.Second)},
		ContentStore: loadContentStore(),
		Ledger: LedgerConfig{
			Mode:            getEnv("LEDGER_MODE", "simulated"),
			RPCURL:          getEnv("LEDGER_RPC_URL", ""),
			PrivateKey:      getEnv("LEDGER_PRIVATE_KEY", ""),
			ContractAddress: getEnv("LEDGER_CONTRACT_ADDRESS", "0x0000000000000000000000000000000000000000"),
			Timeout:         getEnvDuration("LEDGER_TIMEOUT", 60*time.Second),
			ReceiptPoll:     getEnvDuration("LEDGER_RECEIPT_POLL", 2*time.Second),
		},
		Auth: AuthConfig{JWTSecret: getEnv("AUTH_JWT_SECRET", "")},
	}
}

func loadScrub() ScrubConfig {
	names := getEnvList("SCRUB_STRATEGIES", []string{"mat2", "exiftool"})
	strategies := make([]StrategyConfig, 0, len(names))
	for _, n := range names {
		key := "SCRUB_" + strings.ToUpper(strings.ReplaceAll(n, "-", "_")) + "_ENABLED"
		strategies = append(strategies, StrategyConfig{Name: n, Enabled: getEnvBool(key, true)})
	}
	return ScrubConfig{
		Strategies:       strategies,
		Runner:           getEnv("SCRUB_RUNNER", "local"),
		Timeout:          getEnvDuration("SCRUB_TIMEOUT", 30*time.Second),
		ProbeTimeout:     getEnvDuration("SCRUB_PROBE_TIMEOUT", 5*time.Second),
		ProbeNegativeTTL: getEnvDuration("SCRUB_PROBE_NEGATIVE_TTL", time.Minute),
		SSH: SSHConfig{
			Addr:           getEnv("SCRUB_SSH_ADDR", ""),
			User:           getEnv("SCRUB_SSH_USER", ""),
			KeyFile:        getEnv("SCRUB_SSH_KEY_FILE", ""),
			KnownHostsFile: getEnv("SCRUB_SSH_KNOWN_HOSTS", ""),
		},
	}
}

func loadContentStore() ContentStoreConfig {
	return ContentStoreConfig{
		Backend:       getEnv("CONTENT_STORE_BACKEND", ""),
		Endpoint:      getEnv("CONTENT_STORE_ENDPOINT", ""),
		ProjectID:     getEnv("CONTENT_STORE_PROJECT_ID", ""),
		ProjectSecret: getEnv("CONTENT_STORE_PROJECT_SECRET", ""),
		Bucket:        getEnv("CONTENT_STORE_BUCKET", ""),
		UseSSL:        getEnvBool("CONTENT_STORE_USE_SSL", false),
		Timeout:       getEnvDuration("CONTENT_STORE_TIMEOUT", 15*time.Second),
	}
}

// IsProduction reports whether APP_ENV names a production deployment.
func (c *AppConfig) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.ParseInt(v, 10, 64)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil && d > 0 {
			return d
		}
	}
	return def
}

// getEnvList splits a comma separated value, dropping empty entries.
func getEnvList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return append([]string(nil), def...)
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), def...)
	}
	return out
}
