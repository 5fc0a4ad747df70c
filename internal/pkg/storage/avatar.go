// Package storage processes and stores user avatars on S3 or local disk.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/disintegration/imaging"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
)

const (
	AvatarSize        = 256
	MaxAvatarBytes    = 5 << 20
	avatarContentType = "image/jpeg"
)

var ErrNotAnImage = errors.New("file is not a supported image")

// AvatarStore saves a processed avatar and returns its public URL.
type AvatarStore interface {
	Save(ctx context.Context, userID uint, jpeg []byte) (string, error)
}

// ProcessAvatar decodes an uploaded image, crops it to a centered square and
// encodes it as JPEG.
func ProcessAvatar(r io.Reader) ([]byte, error) {
	img, err := imaging.Decode(io.LimitReader(r, MaxAvatarBytes), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAnImage, err)
	}
	thumb := imaging.Fill(img, AvatarSize, AvatarSize, imaging.Center, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("encode avatar: %w", err)
	}
	return buf.Bytes(), nil
}

func objectKey(userID uint) string {
	return fmt.Sprintf("avatars/%d/%s.jpg", userID, uuid.NewString())
}

// NewAvatarStore returns the S3 store when a bucket is configured and the
// local store otherwise.
func NewAvatarStore(ctx context.Context, cfg *Config) (AvatarStore, error) {
	if cfg.UsesS3() {
		return NewS3Store(ctx, cfg)
	}
	return NewLocalStore(cfg.LocalDir, cfg.LocalURLPrefix), nil
}

// S3Store writes avatars into a bucket.
type S3Store struct {
	client  *s3.Client
	bucket  string
	baseURL string
}

func NewS3Store(ctx context.Context, cfg *Config) (*S3Store, error) {
	awsConfig, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
	})

	baseURL := cfg.PublicBaseURL
	if baseURL == "" {
		if cfg.EndpointURL != "" {
			baseURL = fmt.Sprintf("%s/%s", cfg.EndpointURL, cfg.BucketName)
		} else {
			baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.BucketName, cfg.Region)
		}
	}

	log.Infof("[Storage] avatars stored in bucket %s", cfg.BucketName)
	return &S3Store{client: client, bucket: cfg.BucketName, baseURL: baseURL}, nil
}

func (s *S3Store) Save(ctx context.Context, userID uint, jpeg []byte) (string, error) {
	key := objectKey(userID)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(jpeg),
		ContentLength: aws.Int64(int64(len(jpeg))),
		ContentType:   aws.String(avatarContentType),
		CacheControl:  aws.String("public, max-age=31536000, immutable"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload avatar to s3://%s/%s: %w", s.bucket, key, err)
	}
	return s.baseURL + "/" + key, nil
}

// LocalStore writes avatars below a directory served as static files.
type LocalStore struct {
	dir       string
	urlPrefix string
}

func NewLocalStore(dir, urlPrefix string) *LocalStore {
	return &LocalStore{dir: dir, urlPrefix: urlPrefix}
}

func (l *LocalStore) Save(ctx context.Context, userID uint, jpeg []byte) (string, error) {
	key := objectKey(userID)
	rel := key[len("avatars/"):]
	path := filepath.Join(l.dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create avatar dir: %w", err)
	}
	if err := os.WriteFile(path, jpeg, 0o644); err != nil {
		return "", fmt.Errorf("write avatar: %w", err)
	}
	return l.urlPrefix + "/" + rel, nil
}
