// Package storage writes published artifacts to S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// ObjectPutter is the part of the S3 client used for publishing
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Publisher uploads public objects to one bucket
type Publisher struct {
	client        ObjectPutter
	bucket        string
	publicBaseURL string
	logger        *zap.Logger
}

func NewPublisher(client ObjectPutter, bucket, publicBaseURL string, logger *zap.Logger) *Publisher {
	return &Publisher{
		client:        client,
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		logger:        logger.Named("storage"),
	}
}

// Put uploads body under key and returns its public URL, or the key when no
// public base URL is configured
func (p *Publisher) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(p.bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(body),
		ContentType:  aws.String(contentType),
		CacheControl: aws.String("public, max-age=300"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}

	p.logger.Debug("object published", zap.String("bucket", p.bucket), zap.String("key", key), zap.Int("bytes", len(body)))
	if p.publicBaseURL == "" {
		return key, nil
	}
	return p.publicBaseURL + "/" + key, nil
}
