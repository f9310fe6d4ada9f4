// Package blob uploads export artifacts to an S3-compatible bucket.
package blob

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientConfig holds the configuration for an S3-compatible object store.
// Endpoint is empty for AWS itself.
type ClientConfig struct {
	Endpoint       string
	Region         string
	Bucket         string
	AccessKey      string
	SecretKey      string
	UseSSL         bool
	ForcePathStyle bool
	Prefix         string
}

// Uploader writes objects into one bucket.
type Uploader struct {
	s3     *s3.Client
	bucket string
	prefix string
}

// New builds an Uploader with static credentials when they are configured,
// falling back to the default AWS credential chain otherwise.
func New(ctx context.Context, cfg ClientConfig) (*Uploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("blob: bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("blob: region is required")
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
		loadOpts = append(loadOpts, config.WithCredentialsProvider(creds))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("blob: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := normaliseEndpoint(cfg.Endpoint, cfg.UseSSL)
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &Uploader{
		s3:     s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Upload puts body at key and returns the object location.
func (u *Uploader) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := u.s3.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("blob: put %s/%s: %w", u.bucket, key, err)
	}
	return "s3://" + u.bucket + "/" + key, nil
}

// UploadFile uploads a local file under the configured prefix, dated by at.
func (u *Uploader) UploadFile(ctx context.Context, localPath string, at time.Time) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("blob: open %s: %w", localPath, err)
	}
	defer f.Close()

	name := filepath.Base(localPath)
	return u.Upload(ctx, ObjectKey(u.prefix, name, at), f, contentTypeFor(name))
}

// ObjectKey lays exports out as prefix/YYYY/MM/DD/name.
func ObjectKey(prefix, name string, at time.Time) string {
	return path.Join(prefix, at.UTC().Format("2006/01/02"), name)
}

func contentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return "text/csv"
	case ".png":
		return "image/png"
	}
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func normaliseEndpoint(endpoint string, useSSL bool) string {
	parsed, err := url.Parse(endpoint)
	if err == nil && parsed.Scheme != "" {
		return endpoint
	}
	scheme := "http"
	if useSSL {
		scheme = "https"
	}
	return scheme + "://" + endpoint
}
