package writer

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"oddsflow/models"
)

// ParquetRecord is one annotated row as stored in parquet. prev_price and
// price_delta are optional columns; null marks the first row of a series.
type ParquetRecord struct {
	MatchID     string   `parquet:"name=match_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp   int64    `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Market      string   `parquet:"name=market, type=BYTE_ARRAY, convertedtype=UTF8"`
	Selection   string   `parquet:"name=selection, type=BYTE_ARRAY, convertedtype=UTF8"`
	Price       float64  `parquet:"name=price, type=DOUBLE"`
	ImpliedProb float64  `parquet:"name=implied_prob, type=DOUBLE"`
	PrevPrice   *float64 `parquet:"name=prev_price, type=DOUBLE, repetitiontype=OPTIONAL"`
	PriceDelta  *float64 `parquet:"name=price_delta, type=DOUBLE, repetitiontype=OPTIONAL"`
	IsAnomaly   bool     `parquet:"name=is_anomaly, type=BOOLEAN"`
}

func toParquetRecord(row models.AnnotatedRow) ParquetRecord {
	return ParquetRecord{
		MatchID:     row.MatchID,
		Timestamp:   row.Timestamp.UnixMilli(),
		Market:      row.Market,
		Selection:   row.Selection,
		Price:       row.Price,
		ImpliedProb: row.ImpliedProb,
		PrevPrice:   row.PrevPrice,
		PriceDelta:  row.PriceDelta,
		IsAnomaly:   row.IsAnomaly,
	}
}

// memoryFileWriter implements source.ParquetFile for in-memory writing
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{
		buffer: &bytes.Buffer{},
	}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error) {
	return mfw, nil
}

// Seek only reports the current size; the parquet writer never seeks backwards.
func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error) {
	return mfw.buffer.Read(b)
}

func (mfw *memoryFileWriter) Write(b []byte) (int, error) {
	return mfw.buffer.Write(b)
}

func (mfw *memoryFileWriter) Close() error {
	return nil
}

func (mfw *memoryFileWriter) Bytes() []byte {
	return mfw.buffer.Bytes()
}

func compressionCodec(name string) parquet.CompressionCodec {
	switch strings.ToLower(name) {
	case "snappy":
		return parquet.CompressionCodec_SNAPPY
	case "gzip":
		return parquet.CompressionCodec_GZIP
	default:
		return parquet.CompressionCodec_UNCOMPRESSED
	}
}

// writeParquet streams the table into fw and finalises the file footer. fw
// is not closed.
func writeParquet(fw source.ParquetFile, table []models.AnnotatedRow, compression string) error {
	pw, err := writer.NewParquetWriter(fw, new(ParquetRecord), 4)
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = compressionCodec(compression)

	for _, row := range table {
		if err := pw.Write(toParquetRecord(row)); err != nil {
			_ = pw.WriteStop()
			return fmt.Errorf("failed to write parquet record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("failed to finalize parquet writing: %w", err)
	}
	return nil
}

// EncodeParquet renders the table as an in-memory parquet file.
func EncodeParquet(table []models.AnnotatedRow, compression string) ([]byte, error) {
	fw := newMemoryFileWriter()
	if err := writeParquet(fw, table, compression); err != nil {
		return nil, err
	}
	return fw.Bytes(), nil
}

// partitionPath expands {year}, {month}, {day} and {hour} in format.
func partitionPath(format string, at time.Time) string {
	at = at.UTC()
	path := strings.ReplaceAll(format, "{year}", fmt.Sprintf("%04d", at.Year()))
	path = strings.ReplaceAll(path, "{month}", fmt.Sprintf("%02d", at.Month()))
	path = strings.ReplaceAll(path, "{day}", fmt.Sprintf("%02d", at.Day()))
	path = strings.ReplaceAll(path, "{hour}", fmt.Sprintf("%02d", at.Hour()))
	return strings.Trim(path, "/")
}

func partitionValues(at time.Time) map[string]any {
	at = at.UTC()
	return map[string]any{
		"year":  at.Year(),
		"month": int(at.Month()),
		"day":   at.Day(),
	}
}
