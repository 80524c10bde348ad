package writer

import (
	"context"
	"encoding/json"
	"fmt"

	kafka "github.com/segmentio/kafka-go"

	"oddsflow/logger"
	"oddsflow/models"
)

// messageWriter is the subset of *kafka.Writer used by the sink.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes one JSON message per row, keyed by series so that a
// series stays on one partition. The table name travels in a header.
type KafkaSink struct {
	writer messageWriter
	topic  string
	log    *logger.Log
}

func newKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
	}
}

func NewKafkaSink(w messageWriter, topic string, log *logger.Log) *KafkaSink {
	if log == nil {
		log = logger.GetLogger()
	}
	log.WithComponent("kafka_sink").WithFields(logger.Fields{"topic": topic}).Debug("kafka sink initialized")
	return &KafkaSink{writer: w, topic: topic, log: log}
}

func (k *KafkaSink) Write(ctx context.Context, table []models.AnnotatedRow, name string) error {
	log := k.log.WithComponent("kafka_sink").WithFields(logger.Fields{"table": name, "rows": len(table), "topic": k.topic})
	if len(table) == 0 {
		log.Info("empty table, nothing published")
		return nil
	}

	msgs := make([]kafka.Message, 0, len(table))
	for _, row := range table {
		value, err := json.Marshal(row)
		if err != nil {
			return &models.SinkError{Sink: "kafka", Table: name, Err: fmt.Errorf("marshal row: %w", err)}
		}
		msgs = append(msgs, kafka.Message{
			Key:     []byte(row.Key().String()),
			Value:   value,
			Time:    row.Timestamp,
			Headers: []kafka.Header{{Key: "table", Value: []byte(name)}},
		})
	}

	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return &models.SinkError{Sink: "kafka", Table: name, Err: err}
	}

	log.Debug("table published to kafka")
	logger.LogDataFlowEntry(log, "pipeline", "kafka:"+k.topic, len(msgs), "annotated_row")
	return nil
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
