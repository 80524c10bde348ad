package reader

import (
	"fmt"

	"oddsflow/config"
	"oddsflow/internal/pipeline"
	"oddsflow/logger"
)

// New builds the quote source selected by source.kind.
func New(cfg *config.Config, log *logger.Log) (pipeline.QuoteSource, error) {
	switch cfg.Source.Kind {
	case config.SourceFixture, "":
		return NewFixtureSource(cfg.Source.Fixture.Path, log), nil
	case config.SourceHTTP:
		return NewHTTPSource(cfg.Source.HTTP, log), nil
	case config.SourceWebSocket:
		return NewWebSocketSource(cfg.Source.WebSocket, log), nil
	default:
		return nil, fmt.Errorf("unknown source kind '%s'", cfg.Source.Kind)
	}
}
