package writer

import (
	"context"
	"fmt"
	"path/filepath"

	appconfig "oddsflow/config"
	"oddsflow/internal/metadata"
	"oddsflow/internal/pipeline"
	"oddsflow/logger"
)

// Sink is a table sink that owns a connection.
type Sink interface {
	pipeline.TableSink
	Close() error
}

// New builds the sink selected by storage.sink. The destination comes from
// cfg.Destination, so pipeline.sink_identifier overrides the sink's own field.
func New(ctx context.Context, cfg *appconfig.Config, log *logger.Log) (Sink, error) {
	dest := cfg.Destination()

	switch cfg.Storage.Sink {
	case appconfig.SinkLocal:
		metaDir := cfg.Writer.MetadataDir
		if metaDir == "" {
			metaDir = dest
		}
		meta, err := newMetadata(cfg, metaDir, dest)
		if err != nil {
			return nil, err
		}
		return NewLocalSink(dest, cfg.Writer.Partitioning.TimeFormat, cfg.Writer.Compression, meta, log), nil

	case appconfig.SinkS3:
		client, err := newS3Client(ctx, cfg.Storage.S3)
		if err != nil {
			return nil, err
		}
		var meta *metadata.Generator
		if cfg.Writer.MetadataDir != "" {
			if meta, err = newMetadata(cfg, cfg.Writer.MetadataDir, "s3://"+dest); err != nil {
				return nil, err
			}
		}
		return NewS3Sink(client, dest, cfg, meta, log), nil

	case appconfig.SinkKafka:
		return NewKafkaSink(newKafkaWriter(cfg.Storage.Kafka.Brokers, dest), dest, log), nil

	case appconfig.SinkRedis:
		rdb, err := connectRedis(ctx, cfg.Storage.Redis.Addr, cfg.Storage.Redis.Password, cfg.Storage.Redis.DB)
		if err != nil {
			return nil, err
		}
		return NewRedisSink(rdb, dest, cfg.Storage.Redis.TTL, log), nil

	default:
		return nil, fmt.Errorf("unknown storage sink '%s'", cfg.Storage.Sink)
	}
}

func newMetadata(cfg *appconfig.Config, dir, location string) (*metadata.Generator, error) {
	gen, err := metadata.NewGenerator(dir, location, cfg.Pipeline.TablePrefix)
	if err != nil {
		return nil, fmt.Errorf("table metadata in %s: %w", dir, err)
	}
	if err := gen.WriteCatalogEntry(filepath.Join(dir, "catalog")); err != nil {
		return nil, fmt.Errorf("catalog entry in %s: %w", dir, err)
	}
	return gen, nil
}
