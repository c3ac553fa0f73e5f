// Package ingest mirrors transmitted location samples onto the fleet
// analytics topic. Strictly best-effort: the realtime pipeline never waits on
// kafka.
package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/dispatch-client/internal/models"
)

type KafkaMirror struct {
	writer *kafka.Writer
}

func NewKafkaMirror(brokers []string, topic string) *KafkaMirror {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaMirror{writer: w}
}

type sampleRecord struct {
	Identity   string    `json:"identity"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	CapturedAt time.Time `json:"captured_at"`
}

func (k *KafkaMirror) PublishSample(identity string, s models.LocationSample) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(sampleRecord{Identity: identity, Lat: s.Lat, Lon: s.Lon, CapturedAt: s.CapturedAt})
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(identity), Value: b})
}

func (k *KafkaMirror) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
