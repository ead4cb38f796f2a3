package engine

import (
	"strings"

	"github.com/okanya/scriptbox/internal/protocol"
)

// readQueryTypes are query kinds whose row counts are rows returned to the
// caller. Row counts of every other query kind count as rows affected.
var readQueryTypes = map[string]bool{
	"SELECT":    true,
	"SHOW":      true,
	"EXPLAIN":   true,
	"WITH":      true,
	"FIND":      true,
	"AGGREGATE": true,
	"COUNT":     true,
}

// Summarize reduces a worker output stream to summary statistics in a
// single pass. Pure. Unknown events are skipped; absent counts are zero
// (the protocol layer already coerces malformed numerics to zero).
func Summarize(output protocol.EventList) Summary {
	var s Summary
	for _, ev := range output {
		switch e := ev.(type) {
		case protocol.MessageEvent:
			switch e.Type {
			case protocol.EventError:
				s.Errors++
			case protocol.EventWarn:
				s.Warnings++
			}
		case protocol.QueryEvent:
			s.TotalQueries++
			if readQueryTypes[strings.ToUpper(e.QueryType)] {
				s.RowsReturned += int64(e.RowCount)
			} else {
				s.RowsAffected += int64(e.RowCount)
			}
			s.RowsAffected += int64(e.RowsAffected)
		case protocol.OperationEvent:
			s.TotalOperations++
			s.DocumentsProcessed += int64(e.Count) + int64(e.InsertedCount) + int64(e.ModifiedCount) + int64(e.DeletedCount)
		case protocol.DataEvent:
			s.RowsReturned += int64(e.TotalRows)
		}
	}
	return s
}
