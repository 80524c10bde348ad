package reader

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"oddsflow/logger"
	"oddsflow/models"
)

//go:embed sample_quotes.json
var sampleQuotes []byte

// FixtureSource serves quotes from a local file, or the embedded sample feed
// when no path is configured.
type FixtureSource struct {
	path string
	log  *logger.Log
}

func NewFixtureSource(path string, log *logger.Log) *FixtureSource {
	if log == nil {
		log = logger.GetLogger()
	}
	return &FixtureSource{path: path, log: log}
}

func (s *FixtureSource) Fetch(ctx context.Context) ([]models.QuoteRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log := s.log.WithComponent("fixture_source")
	if s.path == "" {
		records, err := DecodeJSON(sampleQuotes)
		if err != nil {
			return nil, fmt.Errorf("embedded sample feed: %w", err)
		}
		log.WithFields(logger.Fields{"records": len(records)}).Info("serving embedded sample feed")
		return records, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", s.path, err)
	}

	var records []models.QuoteRecord
	switch strings.ToLower(filepath.Ext(s.path)) {
	case ".yaml", ".yml":
		records, err = DecodeYAML(data)
	default:
		records, err = DecodeJSON(data)
	}
	if err != nil {
		return nil, fmt.Errorf("fixture %s: %w", s.path, err)
	}

	logger.LogDataFlowEntry(log, s.path, "pipeline", len(records), "quote_records")
	return records, nil
}
