package config

import "time"

// AttachmentsConfig configures attachment upload limits, blob storage, and
// signed-URL behavior, matched by internal/attachments.ServiceConfig,
// internal/attachments.LocalStore, and internal/attachments.S3Store.
type AttachmentsConfig struct {
	MaxSizeBytes  int64 `yaml:"max_size_bytes"`
	RetentionDays int   `yaml:"retention_days"`

	// Backend selects the blob store: "local" or "s3".
	Backend string `yaml:"backend"`

	// BasePath and ServePath configure the local backend: BasePath is
	// where blobs are written on disk, ServePath is the URL path prefix
	// signed URLs are minted under.
	BasePath  string `yaml:"base_path"`
	ServePath string `yaml:"serve_path"`
	// SigningKey signs local attachment URLs (HS256 JWT over the blob
	// key), matched by internal/attachments.LocalStore's signingKey.
	SigningKey string `yaml:"signing_key"`
	// SignedURLTTL bounds how long a minted attachment URL stays valid.
	SignedURLTTL time.Duration `yaml:"signed_url_ttl"`

	S3 AttachmentsS3Config `yaml:"s3"`
}

// AttachmentsS3Config configures the s3 backend, matched by
// internal/attachments.S3StoreConfig.
type AttachmentsS3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

func applyAttachmentsDefaults(cfg *AttachmentsConfig) {
	if cfg.MaxSizeBytes == 0 {
		cfg.MaxSizeBytes = 20 * 1024 * 1024
	}
	if cfg.RetentionDays == 0 {
		cfg.RetentionDays = 7
	}
	if cfg.Backend == "" {
		cfg.Backend = "local"
	}
	if cfg.BasePath == "" {
		cfg.BasePath = "attachments"
	}
	if cfg.ServePath == "" {
		cfg.ServePath = "/attachments"
	}
	if cfg.SignedURLTTL == 0 {
		cfg.SignedURLTTL = time.Hour
	}
}

// RetentionTTL converts RetentionDays into a duration for
// internal/attachments.ServiceConfig.RetentionTTL.
func (c AttachmentsConfig) RetentionTTL() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}
