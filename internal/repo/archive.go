package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"

	"github.com/miradorstack/mirador-timers/internal/models"
)

// ArchiveConfig holds the object storage target for cycle reports.
type ArchiveConfig struct {
	Bucket          string
	Region          string
	Endpoint        string // optional, for MinIO and other S3-compatible stores
	PathStyle       bool
	Prefix          string
	AccessKeyID     string // optional, falls back to the default credentials chain
	SecretAccessKey string
}

// ReportArchive writes zstd-compressed JSON cycle reports to S3.
type ReportArchive struct {
	client  *s3.Client
	bucket  string
	prefix  string
	encoder *zstd.Encoder
}

// NewReportArchive creates an archive from cfg using the AWS default config chain.
func NewReportArchive(ctx context.Context, cfg ArchiveConfig) (*ReportArchive, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})
	return newReportArchive(client, cfg.Bucket, cfg.Prefix)
}

func newReportArchive(client *s3.Client, bucket, prefix string) (*ReportArchive, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	return &ReportArchive{client: client, bucket: bucket, prefix: prefix, encoder: encoder}, nil
}

// ReportKey returns the object key of a report.
func (a *ReportArchive) ReportKey(report models.CycleReport) string {
	return path.Join(a.prefix, report.ServiceID, report.StartedAt.UTC().Format("2006/01/02"), report.ID+".json.zst")
}

// RecordReport uploads one report.
func (a *ReportArchive) RecordReport(ctx context.Context, report models.CycleReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	body := a.encoder.EncodeAll(payload, nil)
	key := a.ReportKey(report)

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(body),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("zstd"),
		Metadata: map[string]string{
			"service-id": report.ServiceID,
			"outcome":    string(report.Outcome),
		},
	})
	if err != nil {
		return fmt.Errorf("archive report %s: %w", key, err)
	}
	return nil
}
