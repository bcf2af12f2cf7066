package kafkax

import (
	"time"

	"github.com/segmentio/kafka-go"
)

// NewWriter returns a topic-less writer; each message names its own topic.
// Messages with the same key (aggregate id) land on the same partition.
func NewWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
}
