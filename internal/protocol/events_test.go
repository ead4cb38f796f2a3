package protocol

import (
	"encoding/json"
	"testing"
)

// --- Event decoding ---

func TestDecodeEvent_Variants(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want EventType
	}{
		{"info", `{"type":"info","message":"hello","timestamp":"2025-01-01T00:00:00"}`, EventInfo},
		{"log", `{"type":"log","message":"x"}`, EventLog},
		{"warn", `{"type":"warn","message":"careful"}`, EventWarn},
		{"error", `{"type":"error","message":"boom"}`, EventError},
		{"query", `{"type":"query","queryType":"SELECT","rowCount":10}`, EventQuery},
		{"operation", `{"type":"operation","name":"insertMany","insertedCount":3}`, EventOperation},
		{"data", `{"type":"data","totalRows":42,"preview":[{"a":1}]}`, EventData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := DecodeEvent(json.RawMessage(tt.raw))
			if ev.Kind() != tt.want {
				t.Errorf("Kind() = %q, want %q", ev.Kind(), tt.want)
			}
		})
	}
}

func TestDecodeEvent_QueryFields(t *testing.T) {
	ev := DecodeEvent(json.RawMessage(`{"type":"query","queryType":"UPDATE","rowCount":7,"rowsAffected":7}`))
	q, ok := ev.(QueryEvent)
	if !ok {
		t.Fatalf("expected QueryEvent, got %T", ev)
	}
	if q.QueryType != "UPDATE" {
		t.Errorf("QueryType = %q, want UPDATE", q.QueryType)
	}
	if q.RowCount != 7 || q.RowsAffected != 7 {
		t.Errorf("counts = %d/%d, want 7/7", q.RowCount, q.RowsAffected)
	}
}

func TestDecodeEvent_UnknownType(t *testing.T) {
	raw := `{"type":"telemetry","payload":{"x":1}}`
	ev := DecodeEvent(json.RawMessage(raw))
	u, ok := ev.(UnknownEvent)
	if !ok {
		t.Fatalf("expected UnknownEvent, got %T", ev)
	}
	if u.Type != "telemetry" {
		t.Errorf("Type = %q, want telemetry", u.Type)
	}

	// Round-trips unchanged.
	out, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	if string(out) != raw {
		t.Errorf("round-trip = %s, want %s", out, raw)
	}
}

func TestDecodeEvent_MalformedBody(t *testing.T) {
	// message is a number, not a string: body does not match the variant.
	ev := DecodeEvent(json.RawMessage(`{"type":"info","message":12}`))
	if _, ok := ev.(UnknownEvent); !ok {
		t.Fatalf("expected UnknownEvent for malformed body, got %T", ev)
	}
}

func TestDecodeEvent_NotAnObject(t *testing.T) {
	ev := DecodeEvent(json.RawMessage(`"just a string"`))
	if _, ok := ev.(UnknownEvent); !ok {
		t.Fatalf("expected UnknownEvent, got %T", ev)
	}
}

// --- Count tolerance ---

func TestCount_LooseDecoding(t *testing.T) {
	tests := []struct {
		raw  string
		want Count
	}{
		{`5`, 5},
		{`5.9`, 5},
		{`"12"`, 12},
		{`null`, 0},
		{`"not a number"`, 0},
		{`true`, 0},
		{`{}`, 0},
		{`""`, 0},
	}

	for _, tt := range tests {
		var c Count
		if err := json.Unmarshal([]byte(tt.raw), &c); err != nil {
			t.Errorf("Unmarshal(%s) error: %v", tt.raw, err)
			continue
		}
		if c != tt.want {
			t.Errorf("Unmarshal(%s) = %d, want %d", tt.raw, c, tt.want)
		}
	}
}

// --- EventList ---

func TestEventList_PreservesOrder(t *testing.T) {
	raw := `[
		{"type":"info","message":"first"},
		{"type":"query","queryType":"SELECT","rowCount":1},
		{"type":"mystery","x":1},
		{"type":"error","message":"last"}
	]`

	var list EventList
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if len(list) != 4 {
		t.Fatalf("len = %d, want 4", len(list))
	}

	wantKinds := []EventType{EventInfo, EventQuery, "mystery", EventError}
	for i, k := range wantKinds {
		if list[i].Kind() != k {
			t.Errorf("list[%d].Kind() = %q, want %q", i, list[i].Kind(), k)
		}
	}
}

func TestEventList_NotAnArray(t *testing.T) {
	var list EventList
	if err := json.Unmarshal([]byte(`{"type":"info"}`), &list); err == nil {
		t.Fatal("expected error for non-array output")
	}
}
