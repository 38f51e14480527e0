package wire

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEncodeBatchShape(t *testing.T) {
	success := true
	events := []Event{
		{
			ID:        "ev-1",
			TraceID:   "tr-1",
			Type:      TypeGeneration,
			Timestamp: time.Unix(1700000000, 0).UTC(),
			Name:      "completion",
			Model:     "m-large",
			Usage:     &Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		},
		{
			ID:         "ev-2",
			TraceID:    "tr-1",
			SpanID:     "sp-1",
			Type:       TypeToolCall,
			Timestamp:  time.Unix(1700000001, 0).UTC(),
			ToolName:   "search",
			DurationMs: 42,
			Success:    &success,
		},
	}

	body, dropped, err := EncodeBatch(events)
	if err != nil {
		t.Fatalf("EncodeBatch failed: %v", err)
	}
	if dropped != 0 {
		t.Fatalf("expected no drops, got %d", dropped)
	}

	var decoded []map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("output is not a JSON array: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("expected 2 elements, got %d", len(decoded))
	}

	gen := decoded[0]
	if gen["traceId"] != "tr-1" || gen["type"] != TypeGeneration || gen["model"] != "m-large" {
		t.Fatalf("unexpected generation element: %v", gen)
	}
	if _, ok := gen["spanId"]; ok {
		t.Error("empty spanId must be omitted")
	}
	usage, ok := gen["usage"].(map[string]any)
	if !ok || usage["totalTokens"] != float64(15) {
		t.Fatalf("unexpected usage: %v", gen["usage"])
	}

	tool := decoded[1]
	if tool["toolName"] != "search" || tool["durationMs"] != float64(42) || tool["success"] != true {
		t.Fatalf("unexpected tool element: %v", tool)
	}
}

func TestEncodeBatchSkipsUnserializableEvents(t *testing.T) {
	good := Event{ID: "ok", TraceID: "tr", Type: TypeCustom, Name: "fine"}
	bad := Event{ID: "bad", TraceID: "tr", Type: TypeCustom, Input: make(chan int)}

	body, dropped, err := EncodeBatch([]Event{bad, good, bad})
	if err != nil {
		t.Fatalf("EncodeBatch failed: %v", err)
	}
	if dropped != 2 {
		t.Fatalf("expected 2 dropped, got %d", dropped)
	}

	var decoded []Event
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded) != 1 || decoded[0].ID != "ok" {
		t.Fatalf("expected only the good event, got %+v", decoded)
	}
}

func TestEncodeBatchAllUnserializable(t *testing.T) {
	bad := Event{ID: "bad", TraceID: "tr", Type: TypeCustom, Input: make(chan int)}

	_, dropped, err := EncodeBatch([]Event{bad, bad})
	if err == nil {
		t.Fatal("expected error when every event fails to serialize")
	}
	if dropped != 2 {
		t.Fatalf("expected 2 dropped, got %d", dropped)
	}
}

func TestEncodeBatchEmpty(t *testing.T) {
	body, dropped, err := EncodeBatch(nil)
	if err != nil {
		t.Fatalf("EncodeBatch failed: %v", err)
	}
	if dropped != 0 {
		t.Fatalf("expected no drops, got %d", dropped)
	}
	if string(body) != "[]" {
		t.Fatalf("expected empty array, got %s", body)
	}
}
