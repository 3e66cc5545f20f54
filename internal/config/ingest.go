package config

// IngestConfig holds configuration for the one-shot file ingest pipeline.
type IngestConfig struct {
	DatabaseURL   string
	InputJSON     string
	SessionDesc   string
	SessionDepth  int
	BucketSeconds int
	ReportsDir    string
	LogLevel      string
}

// LoadIngestConfig constructs an IngestConfig from environment variables.
func LoadIngestConfig() IngestConfig {
	loadDotEnv()
	return IngestConfig{
		DatabaseURL:   GetString("DATABASE_URL", "postgres://raporting:raporting@db:5432/raporting?sslmode=disable"),
		InputJSON:     GetString("INPUT_JSON", "sample.json"),
		SessionDesc:   GetString("SESSION_DESC", "Local ingest test"),
		SessionDepth:  GetInt("SESSION_TOTAL_DEPTH", 1),
		BucketSeconds: GetInt("BUCKET_SECONDS", 10),
		ReportsDir:    GetString("REPORTS_DIR", "reports"),
		LogLevel:      GetString("LOG_LEVEL", "info"),
	}
}
