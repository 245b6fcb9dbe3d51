// Package config loads process-wide configuration from the environment,
// mirroring the teacher's getEnv/getEnvInt helper style, with an optional
// best-effort .env load via joho/godotenv.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Env  string
	Port string

	CORSOrigin string

	MongoURL string
	MongoDB  string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	OpenAIBigModel string

	FirebaseProjectID   string
	FirebaseCredentials string

	OTelEndpoint    string
	OTelHeaders     string
	OTelServiceName string

	RedisURL string

	AnalyticsDatabaseURL string

	TypesenseURL    string
	TypesenseAPIKey string

	IdleTimeoutSeconds int
}

// Load loads configuration from environment variables, first attempting a
// best-effort .env load (a missing file is not an error).
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Env:  getEnv("RELAY_ENV", "development"),
		Port: getEnv("PORT", "3000"),

		CORSOrigin: getEnv("CORS_ORIGIN", "*"),

		MongoURL: getEnv("MONGO_URL", "mongodb://mongo:27017"),
		MongoDB:  getEnv("MONGO_DB", "taletwo"),

		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:  getEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:    getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBigModel: getEnv("OPENAI_BIG_MODEL", ""),

		FirebaseProjectID:   getEnv("FIREBASE_PROJECT_ID", ""),
		FirebaseCredentials: getEnv("FIREBASE_CREDENTIALS", ""),

		OTelEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTelHeaders:     getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
		OTelServiceName: getEnv("OTEL_SERVICE_NAME", "taleforge-engine"),

		RedisURL: getEnv("REDIS_URL", ""),

		AnalyticsDatabaseURL: getEnv("ANALYTICS_DATABASE_URL", ""),

		TypesenseURL:    getEnv("TYPESENSE_URL", ""),
		TypesenseAPIKey: getEnv("TYPESENSE_API_KEY", ""),

		IdleTimeoutSeconds: getEnvInt("IDLE_TIMEOUT_SECONDS", 255),
	}
}

// OTelConfig is the subset of Config the telemetry setup needs.
type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
	Environment    string
}

func (c OTelConfig) Enabled() bool { return c.Endpoint != "" }

// OTel projects the telemetry fields out of Config. Environment is carried
// through so every span/log resource is tagged with which of
// RELAY_ENV's dev/staging/production this process is running as, letting a
// single backend distinguish a branch-cache takeover in staging from one in
// production.
func (c Config) OTel() OTelConfig {
	return OTelConfig{
		Endpoint:       c.OTelEndpoint,
		Headers:        c.OTelHeaders,
		ServiceName:    c.OTelServiceName,
		ServiceVersion: "1.0.0",
		Environment:    c.Env,
	}
}

// IsProduction returns true if running in production environment.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// IsDevelopment returns true if running in development environment.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}
