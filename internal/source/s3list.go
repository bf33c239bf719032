package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Lister inspects the billing bucket directly through the S3 API. It
// backs the test-s3 preflight command; the extraction path itself reads
// through DuckDB's httpfs.
type Lister struct {
	client *s3.Client
	bucket string
}

// NewLister resolves credentials from the default AWS chain (env,
// profile, IMDS) and targets one bucket.
func NewLister(ctx context.Context, region, bucket string) (*Lister, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &Lister{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
	}, nil
}

// ListSummary describes what a prefix holds.
type ListSummary struct {
	Prefix      string
	ObjectCount int
	ParquetKeys int
	TotalBytes  int64
	SampleKey   string
}

// Summarize walks a prefix and counts its objects. Pagination is
// followed to the end, so large prefixes cost proportionally many calls.
func (l *Lister) Summarize(ctx context.Context, prefix string) (ListSummary, error) {
	summary := ListSummary{Prefix: prefix}

	paginator := s3.NewListObjectsV2Paginator(l.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(l.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return ListSummary{}, fmt.Errorf("failed to list s3://%s/%s: %w", l.bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			summary.ObjectCount++
			if obj.Size != nil {
				summary.TotalBytes += *obj.Size
			}
			if obj.Key == nil {
				continue
			}
			if strings.HasSuffix(*obj.Key, ".parquet") {
				summary.ParquetKeys++
				if summary.SampleKey == "" {
					summary.SampleKey = *obj.Key
				}
			}
		}
	}
	return summary, nil
}
