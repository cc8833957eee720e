package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Gateway stores artifacts in a single S3 bucket, keyed by ref.
type S3Gateway struct {
	client *s3.Client
	bucket string
}

// NewS3Gateway creates an S3-backed artifact gateway.
func NewS3Gateway(client *s3.Client, bucket string) *S3Gateway {
	return &S3Gateway{client: client, bucket: bucket}
}

// Put uploads the artifact under ref.
func (g *S3Gateway) Put(ctx context.Context, ref string, data []byte) error {
	_, err := g.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(ref),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("%w: put %s: %v", ErrUnavailable, ref, err)
	}
	return nil
}

// Get downloads the artifact stored under ref.
func (g *S3Gateway) Get(ctx context.Context, ref string) ([]byte, error) {
	out, err := g.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(ref),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, fmt.Errorf("%w: get %s: %v", ErrUnavailable, ref, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrUnavailable, ref, err)
	}
	return data, nil
}
