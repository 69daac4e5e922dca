package s3store

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/c360/datacollector/errors"
	"github.com/c360/datacollector/storage"
)

// Config selects the S3 endpoint and credentials. Empty fields fall back to
// the AWS default chain (environment, shared config, instance role).
type Config struct {
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// Store reads and writes whole objects.
type Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	logger   *slog.Logger
}

// New builds a store from cfg.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	var loadOpts []func(*awsConfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsConfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Store", "New", "load aws config")
	}
	if awsCfg.Region == "" {
		awsCfg.Region = "us-east-1"
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		client:   client,
		uploader: manager.NewUploader(client),
		logger:   logger.With("component", "s3store"),
	}, nil
}

// Get returns the object body. A missing object maps to errors.ErrNotFound,
// denied access to errors.ErrForbidden.
func (s *Store) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classify(err, "Get", bucket, key)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.WrapTransient(err, "Store", "Get", "read s3://"+bucket+"/"+key)
	}
	s.logger.Debug("object fetched", "bucket", bucket, "key", key, "bytes", len(data))
	return data, nil
}

// Put uploads body and returns the object location.
func (s *Store) Put(ctx context.Context, bucket, key string, body []byte, contentType string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	res, err := s.uploader.Upload(ctx, input)
	if err != nil {
		return "", classify(err, "Put", bucket, key)
	}
	s.logger.Debug("object uploaded", "bucket", bucket, "key", key, "bytes", len(body))
	return res.Location, nil
}

type apiError interface {
	ErrorCode() string
}

func classify(err error, method, bucket, key string) error {
	action := strings.ToLower(method) + " s3://" + bucket + "/" + key

	var api apiError
	if stderrors.As(err, &api) {
		switch api.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrNotFound, err), "Store", method, action)
		case "AccessDenied", "Forbidden":
			return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrForbidden, err), "Store", method, action)
		case "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrUnauthorized, err), "Store", method, action)
		}
	}
	return errors.WrapTransient(err, "Store", method, action)
}

// ParseURI splits s3://bucket/key.
func ParseURI(u *url.URL) (bucket, key string, err error) {
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", errors.WrapInvalid(fmt.Errorf("s3 uri needs bucket and key: %s", u.Redacted()), "s3store", "ParseURI", "parse")
	}
	return bucket, key, nil
}

var _ storage.ObjectStore = (*Store)(nil)
