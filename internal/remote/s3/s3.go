// Package s3 stores the sync payload as one object in an S3-compatible
// bucket. It registers itself with the remote factory on import.
//
// The locator is "bucket/key". The object ETag is the revision token: the
// first write uses If-None-Match: * and later writes If-Match, so the
// bucket rejects a concurrent writer with 412, reported as a conflict.
//
// The credential, when set, is "ACCESS_KEY_ID:SECRET_ACCESS_KEY[:SESSION]".
// Without it the default AWS credential chain is used.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"golang.org/x/time/rate"

	"github.com/steveyegge/docgallery/internal/gallery"
	"github.com/steveyegge/docgallery/internal/remote"
)

// DefaultRegion is used when none is configured.
const DefaultRegion = "us-east-1"

func init() {
	remote.Register(remote.TypeS3, func(cfg remote.Config) (remote.Client, error) {
		return New(context.Background(), cfg)
	})
}

// ObjectAPI is the part of *s3.Client the backend uses.
type ObjectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ParseLocator splits "bucket/key".
func ParseLocator(s string) (bucket, key string, err error) {
	bucket, key, ok := strings.Cut(strings.TrimSpace(s), "/")
	key = strings.TrimLeft(key, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: want bucket/key, got %q", remote.ErrInvalidLocator, s)
	}
	return bucket, key, nil
}

// Client is the S3 backend.
type Client struct {
	api     ObjectAPI
	bucket  string
	key     string
	limiter *rate.Limiter
	now     func() time.Time
	logger  *slog.Logger
}

// New creates a Client backed by a real S3 client. cfg.BaseURL selects a
// custom endpoint (path-style addressing) for S3-compatible stores.
func New(ctx context.Context, cfg remote.Config) (*Client, error) {
	bucket, key, err := ParseLocator(cfg.Locator)
	if err != nil {
		return nil, err
	}

	region := cfg.Region
	if region == "" {
		region = DefaultRegion
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.Credential != "" {
		provider, err := staticCredentials(cfg.Credential)
		if err != nil {
			return nil, err
		}
		loadOpts = append(loadOpts, config.WithCredentialsProvider(provider))
	}
	if cfg.HTTPClient != nil {
		loadOpts = append(loadOpts, config.WithHTTPClient(cfg.HTTPClient))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Failures are reported, never retried.
		o.RetryMaxAttempts = 1
		if cfg.BaseURL != "" {
			o.BaseEndpoint = aws.String(cfg.BaseURL)
			o.UsePathStyle = true
		}
	})

	return NewWithAPI(api, bucket, key, cfg), nil
}

// NewWithAPI creates a Client over an existing ObjectAPI.
func NewWithAPI(api ObjectAPI, bucket, key string, cfg remote.Config) *Client {
	return &Client{
		api:     api,
		bucket:  bucket,
		key:     key,
		limiter: cfg.Limiter,
		now:     cfg.Clock(),
		logger:  cfg.LoggerFor(remote.TypeS3),
	}
}

func staticCredentials(credential string) (credentials.StaticCredentialsProvider, error) {
	parts := strings.SplitN(credential, ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return credentials.StaticCredentialsProvider{},
			fmt.Errorf("%w: s3 credential must be ACCESS_KEY_ID:SECRET_ACCESS_KEY[:SESSION]", gallery.ErrValidation)
	}
	session := ""
	if len(parts) == 3 {
		session = parts[2]
	}
	return credentials.NewStaticCredentialsProvider(parts[0], parts[1], session), nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return remote.NewError(remote.TypeS3, remote.KindNetwork, 0, "request not sent", err)
	}
	return nil
}

// Fetch implements remote.Client.
func (c *Client) Fetch(ctx context.Context) (*remote.Snapshot, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.key),
	})
	if err != nil {
		return nil, classify(err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, remote.NewError(remote.TypeS3, remote.KindNetwork, 0, "failed to read object", err)
	}
	etag := aws.ToString(out.ETag)
	if etag == "" {
		return nil, remote.NewError(remote.TypeS3, remote.KindMalformedResponse, 0, "object has no ETag", nil)
	}

	return remote.DecodeSnapshot(remote.TypeS3, data, etag)
}

// Write implements remote.Client.
func (c *Client) Write(ctx context.Context, coll gallery.Collection, revision string) (*remote.WriteResult, error) {
	data, err := remote.Encode(coll, c.now())
	if err != nil {
		return nil, err
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	in := &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(c.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	}
	if revision != "" {
		in.IfMatch = aws.String(revision)
	} else {
		in.IfNoneMatch = aws.String("*")
	}

	out, err := c.api.PutObject(ctx, in)
	if err != nil {
		return nil, classify(err)
	}

	c.logger.Info("wrote object", "bucket", c.bucket, "key", c.key, "documents", len(coll), "bytes", len(data))
	return &remote.WriteResult{Revision: aws.ToString(out.ETag)}, nil
}

// classify maps SDK errors onto remote error kinds.
func classify(err error) error {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return remote.NewError(remote.TypeS3, remote.KindNotFound, 404, "", err)
	}

	status := 0
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return remote.NewError(remote.TypeS3, remote.KindNotFound, status, apiErr.ErrorMessage(), err)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
			return remote.NewError(remote.TypeS3, remote.KindUnauthorized, status, apiErr.ErrorMessage(), err)
		case "PreconditionFailed", "ConditionalRequestConflict":
			return remote.NewError(remote.TypeS3, remote.KindConflict, status, apiErr.ErrorMessage(), err)
		case "SlowDown", "Throttling", "ThrottlingException", "RequestLimitExceeded":
			return remote.NewError(remote.TypeS3, remote.KindRateLimited, status, apiErr.ErrorMessage(), err)
		}
	}

	if status != 0 {
		classified := remote.Classify(remote.TypeS3, status, nil, nil)
		classified.Err = err
		return classified
	}
	return remote.NewError(remote.TypeS3, remote.KindNetwork, 0, "", err)
}
