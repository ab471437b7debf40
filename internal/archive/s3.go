// Package archive keeps a durable S3 copy of generated audio, independent of
// the model host's retention.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/oklog/ulid/v2"
)

const (
	keyPrefix   = "music-generations/"
	contentType = "audio/wav"
	// Upper bound on a downloaded artifact.
	maxObjectBytes = 100 << 20
)

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Store struct {
	client     objectPutter
	bucket     string
	region     string
	httpClient *http.Client
	now        func() time.Time
}

// New connects to bucket. Static credentials are used when both key and
// secret are set; otherwise the default AWS credential chain applies.
func New(ctx context.Context, key, secret, region, bucket string, httpClient *http.Client) (*Store, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if key != "" && secret != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(key, secret, "")))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: couldn't load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return nil, fmt.Errorf("archive: couldn't head bucket %s: %w", bucket, err)
	}
	return newStore(client, region, bucket, httpClient), nil
}

func newStore(client objectPutter, region, bucket string, httpClient *http.Client) *Store {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Store{
		client:     client,
		bucket:     bucket,
		region:     region,
		httpClient: httpClient,
		now:        time.Now,
	}
}

func (s *Store) PublicURL(key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}

// Key returns a time-sortable object key for a generation.
func (s *Store) Key(generationID string) string {
	id := ulid.MustNew(ulid.Timestamp(s.now()), ulid.DefaultEntropy())
	return keyPrefix + id.String() + "-" + generationID + ".wav"
}

// Copy downloads sourceURL and stores it under a new key, returning the
// object's URL. The object is private; the URL is for record keeping.
func (s *Store) Copy(ctx context.Context, sourceURL, generationID string) (string, error) {
	body, err := s.download(ctx, sourceURL)
	if err != nil {
		return "", err
	}

	key := s.Key(generationID)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:             aws.String(s.bucket),
		Key:                aws.String(key),
		Body:               bytes.NewReader(body),
		ContentLength:      aws.Int64(int64(len(body))),
		ContentType:        aws.String(contentType),
		ContentDisposition: aws.String("inline"),
	})
	if err != nil {
		return "", fmt.Errorf("archive: couldn't put object %s: %w", key, err)
	}
	return s.PublicURL(key), nil
}

func (s *Store) download(ctx context.Context, sourceURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("archive: invalid source url: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("archive: couldn't download audio: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("archive: couldn't download audio: %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxObjectBytes+1))
	if err != nil {
		return nil, fmt.Errorf("archive: couldn't read audio: %w", err)
	}
	if len(body) > maxObjectBytes {
		return nil, fmt.Errorf("archive: audio exceeds %d bytes", maxObjectBytes)
	}
	return body, nil
}
