package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// DefaultPrefix is where CloudTrail delivers log files inside a bucket.
const DefaultPrefix = "AWSLogs/"

// S3API is the subset of the S3 client used by S3Source.
type S3API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config holds the connection settings of the object storage.
type S3Config struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	UsePathStyle    bool
}

// S3Source lists and reads CloudTrail log files delivered to a bucket.
type S3Source struct {
	client S3API
	bucket string
	prefix string
}

// Bucket returns the bucket name the source reads from.
func (s *S3Source) Bucket() string {
	return s.bucket
}

// List pages through the bucket and keeps *.json.gz objects modified strictly after since.
func (s *S3Source) List(ctx context.Context, since time.Time) ([]Object, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})

	objects := make([]Object, 0)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", s.bucket, s.prefix, err)
		}

		for _, item := range page.Contents {
			key := aws.ToString(item.Key)
			modified := aws.ToTime(item.LastModified)
			if !modified.After(since) || !strings.HasSuffix(key, ".json.gz") {
				continue
			}
			objects = append(objects, Object{Key: key, LastModified: modified, Size: aws.ToInt64(item.Size)})
		}
	}

	return objects, nil
}

// Read downloads and decodes one object.
func (s *S3Source) Read(ctx context.Context, object Object) (Document, error) {
	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(object.Key),
	})
	if err != nil {
		return Document{}, fmt.Errorf("get s3://%s/%s: %w", s.bucket, object.Key, err)
	}
	defer output.Body.Close()

	doc, err := Decode(output.Body)
	if err != nil {
		return Document{}, fmt.Errorf("s3://%s/%s: %w", s.bucket, object.Key, err)
	}
	return doc, nil
}

// NewS3Source creates a source over bucket. An empty prefix defaults to DefaultPrefix.
func NewS3Source(client S3API, bucket, prefix string) (*S3Source, error) {
	if client == nil {
		return nil, errors.New("s3 client is required")
	}
	if bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &S3Source{client: client, bucket: bucket, prefix: prefix}, nil
}

// NewS3Client builds an S3 client with static credentials.
func NewS3Client(cfg S3Config) (*s3.Client, error) {
	provider, err := staticCredentials(cfg)
	if err != nil {
		return nil, err
	}
	return s3.New(s3Options(cfg, provider)), nil
}

func staticCredentials(cfg S3Config) (aws.CredentialsProvider, error) {
	if cfg.AccessKeyID == "" {
		return nil, errors.New("access key ID is required")
	}
	if cfg.SecretAccessKey == "" {
		return nil, errors.New("secret access key is required")
	}
	return aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
		cfg.AccessKeyID,
		cfg.SecretAccessKey,
		cfg.SessionToken,
	)), nil
}

func s3Options(cfg S3Config, provider aws.CredentialsProvider) s3.Options {
	options := s3.Options{
		Region:       region(cfg),
		Credentials:  provider,
		UsePathStyle: cfg.UsePathStyle,
	}
	if cfg.Endpoint != "" {
		options.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return options
}

func region(cfg S3Config) string {
	if cfg.Region == "" {
		return "us-east-1"
	}
	return cfg.Region
}
