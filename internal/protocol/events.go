package protocol

import (
	"encoding/json"
	"strconv"
	"strings"
)

// EventType tags one unit of worker-reported activity.
type EventType string

const (
	EventLog       EventType = "log"
	EventInfo      EventType = "info"
	EventWarn      EventType = "warn"
	EventError     EventType = "error"
	EventQuery     EventType = "query"
	EventOperation EventType = "operation"
	EventData      EventType = "data"
)

// Event is one entry in a worker's output stream. The closed set of concrete
// types is MessageEvent, QueryEvent, OperationEvent, DataEvent and, for
// entries the engine does not recognize, UnknownEvent.
type Event interface {
	Kind() EventType
}

// MessageEvent covers the free-text variants: log, info, warn and error.
type MessageEvent struct {
	Type      EventType `json:"type"`
	Message   string    `json:"message"`
	Timestamp string    `json:"timestamp,omitempty"`
}

func (e MessageEvent) Kind() EventType { return e.Type }

// QueryEvent reports one database query executed by the script.
type QueryEvent struct {
	Type         EventType `json:"type"`
	QueryType    string    `json:"queryType,omitempty"`
	RowCount     Count     `json:"rowCount,omitempty"`
	RowsAffected Count     `json:"rowsAffected,omitempty"`
	Message      string    `json:"message,omitempty"`
	Timestamp    string    `json:"timestamp,omitempty"`
}

func (e QueryEvent) Kind() EventType { return EventQuery }

// OperationEvent reports one document-store operation with its result counts.
type OperationEvent struct {
	Type          EventType `json:"type"`
	Name          string    `json:"name,omitempty"`
	Count         Count     `json:"count,omitempty"`
	InsertedCount Count     `json:"insertedCount,omitempty"`
	ModifiedCount Count     `json:"modifiedCount,omitempty"`
	DeletedCount  Count     `json:"deletedCount,omitempty"`
	Message       string    `json:"message,omitempty"`
	Timestamp     string    `json:"timestamp,omitempty"`
}

func (e OperationEvent) Kind() EventType { return EventOperation }

// DataEvent carries a bounded preview of a result set.
type DataEvent struct {
	Type      EventType         `json:"type"`
	TotalRows Count             `json:"totalRows"`
	Preview   []json.RawMessage `json:"preview,omitempty"`
	Message   string            `json:"message,omitempty"`
	Timestamp string            `json:"timestamp,omitempty"`
}

func (e DataEvent) Kind() EventType { return EventData }

// UnknownEvent preserves entries whose type tag the engine does not know,
// or whose body does not match the expected shape. The raw JSON round-trips
// unchanged so callers still see exactly what the worker emitted.
type UnknownEvent struct {
	Type EventType
	Raw  json.RawMessage
}

func (e UnknownEvent) Kind() EventType { return e.Type }

func (e UnknownEvent) MarshalJSON() ([]byte, error) {
	if len(e.Raw) == 0 {
		return []byte("{}"), nil
	}
	return e.Raw, nil
}

// Count is an int64 that tolerates the loose numeric encodings workers
// produce. JSON numbers, numeric strings, floats and null all decode; any
// other value counts as zero. Decoding never fails.
type Count int64

func (c *Count) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	s = strings.Trim(s, `"`)
	if s == "" || s == "null" {
		*c = 0
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		*c = Count(f)
		return nil
	}
	*c = 0
	return nil
}

// EventList is a worker output stream. Decoding preserves emission order and
// never drops an entry.
type EventList []Event

func (l *EventList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(EventList, 0, len(raw))
	for _, r := range raw {
		out = append(out, DecodeEvent(r))
	}
	*l = out
	return nil
}

// DecodeEvent maps one raw output entry to its concrete variant. Entries
// that do not decode cleanly come back as UnknownEvent rather than an error;
// a worker that emits junk must not be able to fail the whole result.
func DecodeEvent(raw json.RawMessage) Event {
	cloned := append(json.RawMessage(nil), raw...)

	var head struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return UnknownEvent{Raw: cloned}
	}

	switch head.Type {
	case EventLog, EventInfo, EventWarn, EventError:
		var e MessageEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return UnknownEvent{Type: head.Type, Raw: cloned}
		}
		return e
	case EventQuery:
		var e QueryEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return UnknownEvent{Type: head.Type, Raw: cloned}
		}
		return e
	case EventOperation:
		var e OperationEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return UnknownEvent{Type: head.Type, Raw: cloned}
		}
		return e
	case EventData:
		var e DataEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return UnknownEvent{Type: head.Type, Raw: cloned}
		}
		return e
	default:
		return UnknownEvent{Type: head.Type, Raw: cloned}
	}
}
