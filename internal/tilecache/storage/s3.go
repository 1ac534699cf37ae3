package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// mtimeMetaKey is the user metadata key holding a tile's unix mtime.
const mtimeMetaKey = "mtime"

// S3Cache stores tiles as objects in an S3 bucket.
type S3Cache struct {
	client *s3.Client
	bucket string
	prefix string
}

// OpenS3 is the Factory for the "s3" cache type.
func OpenS3(ctx context.Context, opts Options) (Cache, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3 cache requires a <bucket>")
	}

	loadOpts := []func(*config.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		if opts.PathStyle {
			o.UsePathStyle = true
		}
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	return &S3Cache{client: client, bucket: opts.Bucket, prefix: opts.Prefix}, nil
}

func (c *S3Cache) objectKey(k Key) string {
	if c.prefix == "" {
		return k.Path()
	}
	return path.Join(c.prefix, k.Path())
}

// Get downloads the object for k.
func (c *S3Cache) Get(ctx context.Context, k Key) (*Tile, error) {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.objectKey(k)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get object %s: %w", c.objectKey(k), err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", c.objectKey(k), err)
	}

	t := &Tile{Data: data, ContentType: aws.ToString(out.ContentType)}
	if v, ok := out.Metadata[mtimeMetaKey]; ok {
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
			t.Mtime = time.Unix(secs, 0).UTC()
		}
	}
	if t.Mtime.IsZero() && out.LastModified != nil {
		t.Mtime = out.LastModified.UTC()
	}
	return t, nil
}

// Set uploads t as the object for k.
func (c *S3Cache) Set(ctx context.Context, k Key, t *Tile) error {
	mtime := t.Mtime
	if mtime.IsZero() {
		mtime = time.Now()
	}
	input := &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(c.objectKey(k)),
		Body:          bytes.NewReader(t.Data),
		ContentLength: aws.Int64(int64(len(t.Data))),
		Metadata:      map[string]string{mtimeMetaKey: strconv.FormatInt(mtime.Unix(), 10)},
	}
	if t.ContentType != "" {
		input.ContentType = aws.String(t.ContentType)
	}
	if _, err := c.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("put object %s: %w", c.objectKey(k), err)
	}
	return nil
}

// Delete removes the object for k.
func (c *S3Cache) Delete(ctx context.Context, k Key) error {
	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.objectKey(k)),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("delete object %s: %w", c.objectKey(k), err)
	}
	return nil
}

// Close is a no-op; the S3 client holds no resources that need releasing.
func (c *S3Cache) Close() error {
	return nil
}

func isNotFound(err error) bool {
	var noSuchKey *s3types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *s3types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
