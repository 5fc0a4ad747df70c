package storage

import (
	"errors"
	"strings"

	"github.com/ManuelReschke/SyncFox/internal/pkg/env"
)

// Config selects where avatars are written.
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // optional, for S3-compatible services
	PublicBaseURL   string
	LocalDir        string
	LocalURLPrefix  string
}

// LoadConfig reads the S3_* settings. Without a bucket avatars stay on disk.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("S3_REGION", "us-east-1"),
		BucketName:      env.GetEnv("S3_BUCKET_NAME", ""),
		EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
		PublicBaseURL:   strings.TrimRight(env.GetEnv("S3_PUBLIC_BASE_URL", ""), "/"),
		LocalDir:        env.GetEnv("AVATAR_DIR", "./uploads/avatars"),
		LocalURLPrefix:  "/uploads/avatars",
	}

	if cfg.UsesS3() {
		if cfg.AccessKeyID == "" {
			return nil, errors.New("S3_ACCESS_KEY_ID is required when S3_BUCKET_NAME is set")
		}
		if cfg.SecretAccessKey == "" {
			return nil, errors.New("S3_SECRET_ACCESS_KEY is required when S3_BUCKET_NAME is set")
		}
	}
	return cfg, nil
}

func (c *Config) UsesS3() bool {
	return c.BucketName != ""
}
