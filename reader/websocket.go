package reader

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/gorilla/websocket"

	"oddsflow/config"
	"oddsflow/logger"
	"oddsflow/models"
)

// WebSocketSource collects one batch of quotes from a streaming feed. A batch
// ends when max records have arrived, the window elapses or the server closes
// the stream.
type WebSocketSource struct {
	cfg config.WebSocketConfig
	log *logger.Log
}

func NewWebSocketSource(cfg config.WebSocketConfig, log *logger.Log) *WebSocketSource {
	if log == nil {
		log = logger.GetLogger()
	}
	return &WebSocketSource{cfg: cfg, log: log}
}

func (s *WebSocketSource) Fetch(ctx context.Context) ([]models.QuoteRecord, error) {
	log := s.log.WithComponent("websocket_source").WithFields(logger.Fields{"url": s.cfg.URL})

	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", s.cfg.URL, err)
	}
	defer conn.Close()

	// unblock ReadMessage when the caller gives up
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	if s.cfg.SubscribeMessage != "" {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(s.cfg.SubscribeMessage)); err != nil {
			return nil, fmt.Errorf("subscribe: %w", err)
		}
		log.Info("subscribed to quote stream")
	}

	if s.cfg.Window > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(s.cfg.Window)); err != nil {
			return nil, err
		}
	}

	var records []models.QuoteRecord
	messages := 0
	for s.cfg.MaxRecords <= 0 || len(records) < s.cfg.MaxRecords {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if endOfBatch(err) {
				break
			}
			return nil, fmt.Errorf("read quote stream: %w", err)
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}

		batch, err := decodeJSONAt(data, len(records))
		if err != nil {
			return nil, err
		}
		records = append(records, batch...)
		messages++
	}

	if s.cfg.MaxRecords > 0 && len(records) > s.cfg.MaxRecords {
		records = records[:s.cfg.MaxRecords]
	}

	log.WithFields(logger.Fields{"messages": messages}).Debug("quote stream batch complete")
	logger.LogDataFlowEntry(log, s.cfg.URL, "pipeline", len(records), "quote_records")
	return records, nil
}

// endOfBatch reports whether a read error just means the batch is over.
func endOfBatch(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
