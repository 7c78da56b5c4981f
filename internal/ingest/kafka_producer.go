// Package ingest publishes ride lifecycle events to Kafka so anything
// downstream (analytics, billing stubs) can follow what the simulator
// dispatched. Optional at runtime: a nil producer drops events.
package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// RideEvent is the envelope written per lifecycle step.
type RideEvent struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"` // ride.requested, ride.accepted, ...
	RideID   string    `json:"rideId"`
	RiderID  string    `json:"riderId,omitempty"`
	DriverID string    `json:"driverId,omitempty"`
	At       time.Time `json:"at"`
}

const (
	EventRideRequested = "ride.requested"
	EventRideAccepted  = "ride.accepted"
	EventRideCancelled = "ride.cancelled"
	EventRideCompleted = "ride.completed"
)

type EventProducer struct {
	writer *kafka.Writer
}

func NewEventProducer(brokers []string, topic string) *EventProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &EventProducer{writer: w}
}

// Publish writes one event keyed by ride id. Safe on a nil producer.
func (k *EventProducer) Publish(eventType, rideID, riderID, driverID string) error {
	if k == nil {
		return nil
	}
	ev := RideEvent{
		ID:       uuid.NewString(),
		Type:     eventType,
		RideID:   rideID,
		RiderID:  riderID,
		DriverID: driverID,
		At:       time.Now().UTC(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(ev)
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(rideID), Value: b})
}

func (k *EventProducer) Close() error {
	if k == nil || k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
