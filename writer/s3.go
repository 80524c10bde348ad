package writer

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "oddsflow/config"
	"oddsflow/internal/metadata"
	"oddsflow/logger"
	"oddsflow/models"
)

// objectPutter is the subset of the S3 client used by the sink.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink uploads each table as one parquet object.
type S3Sink struct {
	client      objectPutter
	bucket      string
	prefix      string
	timeFormat  string
	compression string
	version     string
	meta        *metadata.Generator
	now         func() time.Time
	log         *logger.Log
}

// newS3Client builds an S3 client from the storage settings. Static keys are
// used when both are present, otherwise the default AWS credential chain.
func newS3Client(ctx context.Context, cfg appconfig.S3Config) (*s3.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				"",
			),
		))
	}

	awsConfig, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	return s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	}), nil
}

func NewS3Sink(client objectPutter, bucket string, cfg *appconfig.Config, meta *metadata.Generator, log *logger.Log) *S3Sink {
	if log == nil {
		log = logger.GetLogger()
	}
	return &S3Sink{
		client:      client,
		bucket:      bucket,
		prefix:      cfg.Storage.S3.Prefix,
		timeFormat:  cfg.Writer.Partitioning.TimeFormat,
		compression: cfg.Writer.Compression,
		version:     cfg.Oddsflow.Version,
		meta:        meta,
		now:         time.Now,
		log:         log,
	}
}

// objectKey returns <prefix>/<partition>/<name>.parquet.
func (s *S3Sink) objectKey(name string, at time.Time) string {
	return path.Join(s.prefix, partitionPath(s.timeFormat, at), name+".parquet")
}

func (s *S3Sink) Write(ctx context.Context, table []models.AnnotatedRow, name string) error {
	log := s.log.WithComponent("s3_sink").WithFields(logger.Fields{"table": name, "rows": len(table), "bucket": s.bucket})
	if len(table) == 0 {
		log.Info("empty table, nothing uploaded")
		return nil
	}

	at := s.now()
	data, err := EncodeParquet(table, s.compression)
	if err != nil {
		return &models.SinkError{Sink: "s3", Table: name, Err: err}
	}

	key := s.objectKey(name, at)
	log = log.WithFields(logger.Fields{"key": key, "data_size": len(data)})
	log.Info("uploading to S3")

	start := time.Now()
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":     "parquet",
			"compression":      s.compression,
			"oddsflow-version": s.version,
			"row-count":        strconv.Itoa(len(table)),
		},
	})
	if err != nil {
		return &models.SinkError{Sink: "s3", Table: name, Err: fmt.Errorf("failed to upload to S3 bucket %s: %w", s.bucket, err)}
	}
	logger.LogPerformanceEntry(log, "s3_sink", "put_object", time.Since(start), nil)

	if s.meta != nil {
		df := metadata.DataFile{
			Path:        fmt.Sprintf("s3://%s/%s", s.bucket, key),
			FileSize:    int64(len(data)),
			RecordCount: int64(len(table)),
			Partition:   partitionValues(at),
			Timestamp:   at,
		}
		if err := s.meta.AddFile(df); err != nil {
			log.WithError(err).Warn("failed to record table metadata")
		}
	}

	log.Info("successfully uploaded to S3")
	logger.LogDataFlowEntry(log, "pipeline", "s3://"+s.bucket, len(table), "annotated_row")
	return nil
}

func (s *S3Sink) Close() error { return nil }
