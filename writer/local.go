package writer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xitongsys/parquet-go-source/local"

	"oddsflow/internal/metadata"
	"oddsflow/logger"
	"oddsflow/models"
)

// LocalSink writes each table to <dir>/<partition>/<name>.parquet.
type LocalSink struct {
	dir         string
	timeFormat  string
	compression string
	meta        *metadata.Generator
	now         func() time.Time
	log         *logger.Log
}

// NewLocalSink creates the sink. meta may be nil to skip table metadata.
func NewLocalSink(dir, timeFormat, compression string, meta *metadata.Generator, log *logger.Log) *LocalSink {
	if log == nil {
		log = logger.GetLogger()
	}
	return &LocalSink{
		dir:         dir,
		timeFormat:  timeFormat,
		compression: compression,
		meta:        meta,
		now:         time.Now,
		log:         log,
	}
}

func (s *LocalSink) Write(ctx context.Context, table []models.AnnotatedRow, name string) error {
	log := s.log.WithComponent("local_sink").WithFields(logger.Fields{"table": name, "rows": len(table)})
	if len(table) == 0 {
		log.Info("empty table, nothing written")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return &models.SinkError{Sink: "local", Table: name, Err: err}
	}

	at := s.now()
	path := filepath.Join(s.dir, filepath.FromSlash(partitionPath(s.timeFormat, at)), name+".parquet")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &models.SinkError{Sink: "local", Table: name, Err: err}
	}

	start := time.Now()
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return &models.SinkError{Sink: "local", Table: name, Err: fmt.Errorf("create %s: %w", path, err)}
	}
	if err := writeParquet(fw, table, s.compression); err != nil {
		fw.Close()
		return &models.SinkError{Sink: "local", Table: name, Err: err}
	}
	if err := fw.Close(); err != nil {
		return &models.SinkError{Sink: "local", Table: name, Err: err}
	}
	logger.LogPerformanceEntry(log, "local_sink", "write_parquet", time.Since(start), nil)

	info, err := os.Stat(path)
	if err != nil {
		return &models.SinkError{Sink: "local", Table: name, Err: err}
	}

	if s.meta != nil {
		df := metadata.DataFile{
			Path:        path,
			FileSize:    info.Size(),
			RecordCount: int64(len(table)),
			Partition:   partitionValues(at),
			Timestamp:   at,
		}
		if err := s.meta.AddFile(df); err != nil {
			log.WithError(err).Warn("failed to record table metadata")
		}
	}

	log.WithFields(logger.Fields{"path": path, "file_size": info.Size()}).Info("table written")
	logger.LogDataFlowEntry(log, "pipeline", path, len(table), "annotated_row")
	return nil
}

func (s *LocalSink) Close() error { return nil }
