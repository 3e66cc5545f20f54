package config

import (
	"fmt"
	"time"
)

// AnalyzerConfig holds runtime configuration for the analysis worker.
type AnalyzerConfig struct {
	DatabaseURL     string
	RabbitURL       string
	SummaryExchange string
	SummaryQueue    string
	SummaryKey      string
	DoneQueue       string
	DoneKey         string
	RawQueue        string
	AnalysisTimeout time.Duration
	BucketSeconds   int
	ReportsDir      string
	OpsAddr         string
	LogLevel        string
}

// LoadAnalyzerConfig constructs an AnalyzerConfig from environment variables.
func LoadAnalyzerConfig() AnalyzerConfig {
	loadDotEnv()
	return AnalyzerConfig{
		DatabaseURL:     GetString("DATABASE_URL", "postgres://raporting:raporting@db:5432/raporting?sslmode=disable"),
		RabbitURL:       rabbitURL(),
		SummaryExchange: GetString("SUMMARY_EXCHANGE", "summary_exchange"),
		SummaryQueue:    GetString("SUMMARY_QUEUE", "summary_queue"),
		SummaryKey:      GetString("SUMMARY_KEY", "analysis_start"),
		DoneQueue:       GetString("DONE_QUEUE", "summary_done_queue"),
		DoneKey:         GetString("DONE_KEY", "analysis_done"),
		RawQueue:        GetString("RAW_QUEUE", "perf.raw"),
		AnalysisTimeout: GetDuration("ANALYSIS_TIMEOUT_SECONDS", 5),
		BucketSeconds:   GetInt("BUCKET_SECONDS", 10),
		ReportsDir:      GetString("REPORTS_DIR", "reports"),
		OpsAddr:         GetString("OPS_ADDR", ":6000"),
		LogLevel:        GetString("LOG_LEVEL", "info"),
	}
}

// rabbitURL prefers RABBIT_URL and otherwise assembles an AMQP URL from its parts.
func rabbitURL() string {
	if url := GetString("RABBIT_URL", ""); url != "" {
		return url
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%d/",
		GetString("RABBIT_USER", "guest"),
		GetString("RABBIT_PASS", "guest"),
		GetString("RABBIT_HOST", "localhost"),
		GetInt("RABBIT_PORT", 5672),
	)
}
