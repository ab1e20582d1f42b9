//go:build e2e

package e2e

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// LocalstackHelper manages buckets on a Localstack S3 endpoint.
type LocalstackHelper struct {
	T        *testing.T
	Endpoint string
	Client   *s3.Client
	Buckets  []string
}

// NewLocalstackHelper connects to LOCALSTACK_ENDPOINT, or
// http://localhost:4566 when unset.
func NewLocalstackHelper(t *testing.T) *LocalstackHelper {
	t.Helper()

	endpoint := os.Getenv("LOCALSTACK_ENDPOINT")
	if endpoint == "" {
		endpoint = "http://localhost:4566"
	}

	cfg, err := awsConfig.LoadDefaultConfig(context.Background(),
		awsConfig.WithRegion("us-east-1"),
		awsConfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
	)
	if err != nil {
		t.Fatalf("Failed to load AWS config: %v", err)
	}

	return &LocalstackHelper{
		T:        t,
		Endpoint: endpoint,
		Client: s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}),
	}
}

// Available reports whether the endpoint answers a bucket listing.
func (lh *LocalstackHelper) Available(ctx context.Context) bool {
	_, err := lh.Client.ListBuckets(ctx, &s3.ListBucketsInput{})
	return err == nil
}

// CreateBucket creates a bucket and registers it for cleanup.
func (lh *LocalstackHelper) CreateBucket(ctx context.Context, bucket string) error {
	lh.T.Helper()

	if _, err := lh.Client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}
	lh.Buckets = append(lh.Buckets, bucket)
	return nil
}

// Cleanup empties and removes every bucket created through the helper.
func (lh *LocalstackHelper) Cleanup() {
	ctx := context.Background()

	for _, bucket := range lh.Buckets {
		paginator := s3.NewListObjectsV2Paginator(lh.Client, &s3.ListObjectsV2Input{Bucket: aws.String(bucket)})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				break
			}
			for _, obj := range page.Contents {
				_, _ = lh.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
					Bucket: aws.String(bucket),
					Key:    obj.Key,
				})
			}
		}
		_, _ = lh.Client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)})
	}
	lh.Buckets = nil
}

// SetupS3Config creates a bucket for tc and points it at the helper.
func SetupS3Config(t *testing.T, tc *TestConfig, helper *LocalstackHelper) {
	t.Helper()

	bucket := "filedrop-e2e-" + strings.ToLower(tc.Name)
	if err := helper.CreateBucket(context.Background(), bucket); err != nil {
		t.Fatalf("Failed to create S3 bucket: %v", err)
	}

	tc.s3Endpoint = helper.Endpoint
	tc.s3Bucket = bucket
}
