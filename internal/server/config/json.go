package config

import (
	"encoding/json"
	"os"
	"time"

	"driftsend/internal/flagx"
	"driftsend/internal/timex"
)

// JsonConfig mirrors Config for JSON unmarshalling, using timex.Duration so
// interval fields accept both "30m" strings and integer nanoseconds. Zero
// values mean "not set" and leave the existing Config value untouched.
type JsonConfig struct {
	EndpointAddr string `json:"endpoint_addr"`
	DatabaseDSN  string `json:"database_dsn"`
	SecretKey    string `json:"secret_key"`

	S3AccessKey    string `json:"s3_access_key"`
	S3SecretKey    string `json:"s3_secret_key"`
	S3Bucket       string `json:"s3_bucket"`
	S3Region       string `json:"s3_region"`
	S3BaseEndpoint string `json:"s3_base_endpoint"`

	UploadURLTTL   timex.Duration `json:"upload_url_ttl"`
	DownloadURLTTL timex.Duration `json:"download_url_ttl"`

	AnonUsageWindow    timex.Duration `json:"anon_usage_window"`
	PendingTransferTTL timex.Duration `json:"pending_transfer_ttl"`
	ReconcileInterval  timex.Duration `json:"reconcile_interval"`

	RateLimitWindow   timex.Duration `json:"rate_limit_window"`
	RateLimitCreate   int64          `json:"rate_limit_create"`
	RateLimitDownload int64          `json:"rate_limit_download"`
	RateLimitDelete   int64          `json:"rate_limit_delete"`

	NotifyTimeout timex.Duration `json:"notify_timeout"`
	SMTPAddr      string         `json:"smtp_addr"`
	SMTPFrom      string         `json:"smtp_from"`
}

// parseJson overlays values from the JSON file named by -c/-config, when
// given. Unreadable or invalid files panic: a misconfigured server must not
// start quietly on defaults.
func parseJson(config *Config) {
	path := flagx.JsonConfigFlags()
	if path == "" {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	setString(&config.EndpointAddr, jc.EndpointAddr)
	setString(&config.DatabaseDSN, jc.DatabaseDSN)
	setString(&config.SecretKey, jc.SecretKey)
	setString(&config.S3AccessKey, jc.S3AccessKey)
	setString(&config.S3SecretKey, jc.S3SecretKey)
	setString(&config.S3Bucket, jc.S3Bucket)
	setString(&config.S3Region, jc.S3Region)
	setString(&config.S3BaseEndpoint, jc.S3BaseEndpoint)
	setString(&config.SMTPAddr, jc.SMTPAddr)
	setString(&config.SMTPFrom, jc.SMTPFrom)

	setDuration(&config.UploadURLTTL, jc.UploadURLTTL)
	setDuration(&config.DownloadURLTTL, jc.DownloadURLTTL)
	setDuration(&config.AnonUsageWindow, jc.AnonUsageWindow)
	setDuration(&config.PendingTransferTTL, jc.PendingTransferTTL)
	setDuration(&config.ReconcileInterval, jc.ReconcileInterval)
	setDuration(&config.RateLimitWindow, jc.RateLimitWindow)
	setDuration(&config.NotifyTimeout, jc.NotifyTimeout)

	setInt64(&config.RateLimitCreate, jc.RateLimitCreate)
	setInt64(&config.RateLimitDownload, jc.RateLimitDownload)
	setInt64(&config.RateLimitDelete, jc.RateLimitDelete)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}

func setInt64(dst *int64, v int64) {
	if v != 0 {
		*dst = v
	}
}
