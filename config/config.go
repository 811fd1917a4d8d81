package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort int
	Database   DatabaseConfig
	Auth       AuthConfig
	Upload     UploadConfig
	Storage    StorageConfig
	Minio      MinioConfig
	GCS        GCSConfig
	MQ         MQConfig
	RabbitMQ   RabbitMQConfig
	PubSub     PubSubConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	UseSSL   bool
}

// AuthConfig carries the token-signing secret and TTL. The secret is
// required; the server refuses to start without one.
type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

// UploadConfig controls where KYC documents are keyed within the
// document store. Stored paths recorded in the database are
// "<Dir>/<random-id>_<original-filename>".
type UploadConfig struct {
	Dir string
}

// StorageConfig selects the document-store backend: "local", "minio"
// or "gcs".
type StorageConfig struct {
	Backend  string
	LocalDir string
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type GCSConfig struct {
	Bucket          string
	ProjectID       string
	CredentialsFile string
}

// MQConfig selects the event-publish backend: "" (disabled),
// "rabbitmq" or "pubsub".
type MQConfig struct {
	Backend string
}

type RabbitMQConfig struct {
	URL             string
	PrefetchCount   int
	QueueDurable    bool
	QueueAutoDelete bool
}

type PubSubConfig struct {
	ProjectID          string
	CredentialsFile    string
	SubscriptionSuffix string
}

func LoadConfig() Config {
	if os.Getenv("ENV") == "dev" {
		godotenv.Load()
	}

	dbConfig := DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "iwc"),
		Password: getEnv("DB_PASSWORD", "password"),
		DBName:   getEnv("DB_NAME", "iwc_db"),
		UseSSL:   getEnvBool("DB_USE_SSL", false),
	}

	return Config{
		ServerPort: getEnvInt("SERVER_PORT", 8080),
		Database:   dbConfig,
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			TokenTTL:  time.Duration(getEnvInt("TOKEN_TTL_MINUTES", 60)) * time.Minute,
		},
		Upload: UploadConfig{
			Dir: getEnv("UPLOAD_DIR", "uploads/kyc"),
		},
		Storage: StorageConfig{
			Backend:  getEnv("STORAGE_BACKEND", "local"),
			LocalDir: getEnv("STORAGE_LOCAL_DIR", "."),
		},
		Minio: MinioConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET", "iwc-kyc"),
			UseSSL:    getEnvBool("MINIO_USE_SSL", false),
		},
		GCS: GCSConfig{
			Bucket:          getEnv("GCS_BUCKET", ""),
			ProjectID:       getEnv("GCS_PROJECT_ID", ""),
			CredentialsFile: getEnv("GCS_CREDENTIALS_FILE", ""),
		},
		MQ: MQConfig{
			Backend: getEnv("MQ_BACKEND", ""),
		},
		RabbitMQ: RabbitMQConfig{
			URL:             getEnv("RABBITMQ_URL", ""),
			PrefetchCount:   getEnvInt("RABBITMQ_PREFETCH_COUNT", 0),
			QueueDurable:    getEnvBool("RABBITMQ_QUEUE_DURABLE", true),
			QueueAutoDelete: getEnvBool("RABBITMQ_QUEUE_AUTO_DELETE", false),
		},
		PubSub: PubSubConfig{
			ProjectID:          getEnv("PUBSUB_PROJECT_ID", ""),
			CredentialsFile:    getEnv("PUBSUB_CREDENTIALS_FILE", ""),
			SubscriptionSuffix: getEnv("PUBSUB_SUBSCRIPTION_SUFFIX", "-sub"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		var value int
		fmt.Sscanf(valueStr, "%d", &value)
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(key); exists {
		return valueStr == "true" || valueStr == "1"
	}
	return defaultValue
}
