package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

// S3Config holds construction parameters for S3Uploader. Credentials come
// from the default AWS chain.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string // optional; set for S3-compatible stores such as MinIO
	Prefix    string // optional key prefix
	PathStyle bool
	RunID     string // stored as object metadata
}

// S3Uploader stores content in a bucket under <prefix><sha256>.
type S3Uploader struct {
	client *s3.Client
	bucket string
	prefix string
	runID  string
}

// NewS3Uploader builds an S3Uploader from cfg.
func NewS3Uploader(ctx context.Context, cfg S3Config, optFns ...func(*s3.Options)) (*S3Uploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("artifact: s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("artifact: load aws config: %w", err)
	}
	return newS3Uploader(awsCfg, cfg, optFns...), nil
}

func newS3Uploader(awsCfg aws.Config, cfg S3Config, optFns ...func(*s3.Options)) *S3Uploader {
	client := s3.NewFromConfig(awsCfg, append([]func(*s3.Options){func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}}, optFns...)...)

	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	return &S3Uploader{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix, runID: runID}
}

// Upload puts the content unless an object with the same address exists.
func (s *S3Uploader) Upload(ctx context.Context, name string, r io.Reader) (Ref, error) {
	b, hash, err := digest(r)
	if err != nil {
		return Ref{}, err
	}
	key := s.prefix + hash
	ref := Ref{Name: name, Hash: hash, Size: int64(len(b)), Location: "s3://" + s.bucket + "/" + key}

	// Emulate create-only via Head first.
	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &key})
	if err == nil {
		return ref, nil
	}
	if !isNotFound(err) {
		return Ref{}, fmt.Errorf("artifact: head %s: %w", key, err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &s.bucket,
		Key:           &key,
		Body:          bytes.NewReader(b),
		ContentLength: aws.Int64(int64(len(b))),
		Metadata:      map[string]string{"name": name, "run-id": s.runID},
	})
	if err != nil {
		return Ref{}, fmt.Errorf("artifact: put %s: %w", key, err)
	}
	return ref, nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == 404
}
