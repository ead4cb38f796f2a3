package protocol

import (
	"encoding/json"
	"testing"
)

func TestNewEnvelope_RoundTrip(t *testing.T) {
	env, err := NewEnvelope(MsgExecute, "exec-1", ExecutePayload{
		Script: "db.users.find()",
		Context: ScriptContext{
			DatabaseType: "mongodb",
			DatabaseName: "app",
			InstanceID:   "inst-1",
			URI:          "mongodb://localhost:27017",
		},
	})
	if err != nil {
		t.Fatalf("NewEnvelope error: %v", err)
	}
	if env.ID != "exec-1" {
		t.Errorf("ID = %q, want exec-1", env.ID)
	}
	if env.Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var back Envelope
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if back.Type != MsgExecute {
		t.Errorf("Type = %q, want %q", back.Type, MsgExecute)
	}

	var payload ExecutePayload
	if err := back.Decode(&payload); err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if payload.Script != "db.users.find()" {
		t.Errorf("Script = %q", payload.Script)
	}
	if payload.Context.DatabaseName != "app" {
		t.Errorf("DatabaseName = %q, want app", payload.Context.DatabaseName)
	}
}

func TestNewEnvelope_NilPayload(t *testing.T) {
	env, err := NewEnvelope(MsgReady, "exec-2", nil)
	if err != nil {
		t.Fatalf("NewEnvelope error: %v", err)
	}
	if env.Payload != nil {
		t.Errorf("Payload = %s, want none", env.Payload)
	}
}

func TestResultPayload_WorkerShape(t *testing.T) {
	// The exact JSON a worker emits for a failed run.
	raw := `{
		"success": false,
		"output": [
			{"type":"info","message":"connected"},
			{"type":"error","message":"duplicate key"}
		],
		"error": {"type":"MongoServerError","message":"E11000 duplicate key"}
	}`

	var res ResultPayload
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if res.Success {
		t.Error("Success = true, want false")
	}
	if len(res.Output) != 2 {
		t.Fatalf("len(Output) = %d, want 2", len(res.Output))
	}
	if res.Error == nil || res.Error.Type != "MongoServerError" {
		t.Errorf("Error = %+v, want MongoServerError", res.Error)
	}
}
