package kafka

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewEvent(t *testing.T) {
	payload := map[string]any{"order_id": "ord-1", "status": "completed"}

	event, err := NewEvent("order.completed", "order", "ord-1", "walkin-service", payload)
	if err != nil {
		t.Fatalf("NewEvent() returned error: %v", err)
	}

	if event.ID == "" {
		t.Error("event ID is empty, want generated UUID")
	}
	if event.Type != "order.completed" {
		t.Errorf("Type = %q, want order.completed", event.Type)
	}
	if event.Aggregate != "order" {
		t.Errorf("Aggregate = %q, want order", event.Aggregate)
	}
	if event.AggregateID != "ord-1" {
		t.Errorf("AggregateID = %q, want ord-1", event.AggregateID)
	}
	if time.Since(event.OccurredAt) > time.Minute {
		t.Errorf("OccurredAt = %v, want recent", event.OccurredAt)
	}
}

func TestNewEvent_UnmarshalablePayload(t *testing.T) {
	if _, err := NewEvent("order.changed", "order", "ord-1", "walkin-service", make(chan int)); err == nil {
		t.Error("NewEvent() with channel payload returned nil error, want marshal error")
	}
}

func TestEvent_RoundTrip(t *testing.T) {
	event, err := NewEvent("stock.low", "stock_entry", "sku-9", "walkin-service",
		map[string]int{"available": 2, "reorder_level": 10})
	if err != nil {
		t.Fatalf("NewEvent() returned error: %v", err)
	}
	event.WithCorrelationID("corr-42")

	data, err := event.Marshal()
	if err != nil {
		t.Fatalf("Marshal() returned error: %v", err)
	}

	got, err := UnmarshalEvent(data)
	if err != nil {
		t.Fatalf("UnmarshalEvent() returned error: %v", err)
	}

	if got.ID != event.ID {
		t.Errorf("ID = %q, want %q", got.ID, event.ID)
	}
	if got.CorrelationID != "corr-42" {
		t.Errorf("CorrelationID = %q, want corr-42", got.CorrelationID)
	}

	var body map[string]int
	if err := got.DecodePayload(&body); err != nil {
		t.Fatalf("DecodePayload() returned error: %v", err)
	}
	if body["available"] != 2 || body["reorder_level"] != 10 {
		t.Errorf("payload = %v, want available=2 reorder_level=10", body)
	}
}

func TestUnmarshalEvent_Invalid(t *testing.T) {
	if _, err := UnmarshalEvent([]byte("{not json")); err == nil {
		t.Error("UnmarshalEvent() with invalid JSON returned nil error")
	}
}

func TestTopic(t *testing.T) {
	got := Topic("order", "changed")
	if got != "walkin.order.changed" {
		t.Errorf("Topic() = %q, want walkin.order.changed", got)
	}
}

func TestEvent_PayloadIsRawJSON(t *testing.T) {
	event, err := NewEvent("stock.updated", "stock_entry", "sku-1", "walkin-service",
		struct {
			Available int `json:"available"`
		}{Available: 7})
	if err != nil {
		t.Fatalf("NewEvent() returned error: %v", err)
	}

	if !json.Valid(event.Payload) {
		t.Error("Payload is not valid JSON")
	}
}
