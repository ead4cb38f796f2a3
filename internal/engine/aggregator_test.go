package engine

import (
	"testing"

	"github.com/okanya/scriptbox/internal/protocol"
)

func TestSummarize_Empty(t *testing.T) {
	got := Summarize(protocol.EventList{})
	if got != (Summary{}) {
		t.Errorf("Summarize(empty) = %+v, want zero summary", got)
	}
}

func TestSummarize_MixedStream(t *testing.T) {
	output := protocol.EventList{
		protocol.MessageEvent{Type: protocol.EventLog, Message: "starting"},
		protocol.QueryEvent{Type: protocol.EventQuery, QueryType: "SELECT", RowCount: 10},
		protocol.OperationEvent{Type: protocol.EventOperation, Name: "insertMany", InsertedCount: 3},
	}

	got := Summarize(output)
	want := Summary{
		TotalQueries:       1,
		RowsReturned:       10,
		TotalOperations:    1,
		DocumentsProcessed: 3,
	}
	if got != want {
		t.Errorf("Summarize() = %+v, want %+v", got, want)
	}
}

func TestSummarize_ReadVersusMutation(t *testing.T) {
	tests := []struct {
		queryType string
		read      bool
	}{
		{"SELECT", true},
		{"SHOW", true},
		{"EXPLAIN", true},
		{"WITH", true},
		{"FIND", true},
		{"AGGREGATE", true},
		{"COUNT", true},
		{"UPDATE", false},
		{"DELETE", false},
		{"INSERT", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run("type "+tt.queryType, func(t *testing.T) {
			got := Summarize(protocol.EventList{
				protocol.QueryEvent{Type: protocol.EventQuery, QueryType: tt.queryType, RowCount: 7},
			})
			if got.TotalQueries != 1 {
				t.Errorf("totalQueries = %d, want 1", got.TotalQueries)
			}
			if tt.read {
				if got.RowsReturned != 7 || got.RowsAffected != 0 {
					t.Errorf("read query: returned=%d affected=%d, want 7/0", got.RowsReturned, got.RowsAffected)
				}
			} else {
				if got.RowsReturned != 0 || got.RowsAffected != 7 {
					t.Errorf("mutation: returned=%d affected=%d, want 0/7", got.RowsReturned, got.RowsAffected)
				}
			}
		})
	}
}

func TestSummarize_ExplicitRowsAffectedAlwaysCounts(t *testing.T) {
	// A read query that also reports rowsAffected contributes to both
	// tallies; the explicit field is never reclassified.
	got := Summarize(protocol.EventList{
		protocol.QueryEvent{Type: protocol.EventQuery, QueryType: "SELECT", RowCount: 5, RowsAffected: 2},
	})
	if got.RowsReturned != 5 {
		t.Errorf("rowsReturned = %d, want 5", got.RowsReturned)
	}
	if got.RowsAffected != 2 {
		t.Errorf("rowsAffected = %d, want 2", got.RowsAffected)
	}
}

func TestSummarize_OperationCounts(t *testing.T) {
	got := Summarize(protocol.EventList{
		protocol.OperationEvent{
			Type:          protocol.EventOperation,
			Name:          "bulkWrite",
			Count:         4,
			InsertedCount: 2,
			ModifiedCount: 1,
			DeletedCount:  3,
		},
	})
	if got.TotalOperations != 1 {
		t.Errorf("totalOperations = %d, want 1", got.TotalOperations)
	}
	if got.DocumentsProcessed != 10 {
		t.Errorf("documentsProcessed = %d, want 4+2+1+3", got.DocumentsProcessed)
	}
}

func TestSummarize_ErrorsAndWarnings(t *testing.T) {
	got := Summarize(protocol.EventList{
		protocol.MessageEvent{Type: protocol.EventError, Message: "duplicate key"},
		protocol.MessageEvent{Type: protocol.EventWarn, Message: "slow query"},
		protocol.MessageEvent{Type: protocol.EventWarn, Message: "deprecated field"},
		protocol.MessageEvent{Type: protocol.EventInfo, Message: "done"},
	})
	if got.Errors != 1 {
		t.Errorf("errors = %d, want 1", got.Errors)
	}
	if got.Warnings != 2 {
		t.Errorf("warnings = %d, want 2", got.Warnings)
	}
}

func TestSummarize_DataEventRowsReturned(t *testing.T) {
	got := Summarize(protocol.EventList{
		protocol.DataEvent{Type: protocol.EventData, TotalRows: 42},
	})
	if got.RowsReturned != 42 {
		t.Errorf("rowsReturned = %d, want 42", got.RowsReturned)
	}
	if got.TotalQueries != 0 {
		t.Errorf("totalQueries = %d, want 0 for a bare data event", got.TotalQueries)
	}
}

func TestSummarize_UnknownEventsIgnored(t *testing.T) {
	got := Summarize(protocol.EventList{
		protocol.UnknownEvent{Type: "telemetry", Raw: []byte(`{"type":"telemetry","blob":1}`)},
		protocol.QueryEvent{Type: protocol.EventQuery, QueryType: "SELECT", RowCount: 1},
	})
	want := Summary{TotalQueries: 1, RowsReturned: 1}
	if got != want {
		t.Errorf("Summarize() = %+v, want %+v", got, want)
	}
}

func TestSummarize_LowercaseQueryTypeIsRead(t *testing.T) {
	got := Summarize(protocol.EventList{
		protocol.QueryEvent{Type: protocol.EventQuery, QueryType: "select", RowCount: 3},
	})
	if got.RowsReturned != 3 {
		t.Errorf("rowsReturned = %d, want 3 for lowercase select", got.RowsReturned)
	}
}
