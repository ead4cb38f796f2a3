package engine

import (
	"strings"
	"testing"

	"github.com/okanya/scriptbox/internal/domain"
)

func TestValidator_BlockedConstructs(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name    string
		script  string
		wantMsg string
	}{
		{"require", `const x = require("fs");`, "require()"},
		{"process", `console.log(process.env.PATH);`, "process"},
		{"eval", `eval("1+1");`, "eval()"},
		{"function constructor", `const f = Function("return 1");`, "Function constructor"},
		{"fs module", `fs.readFileSync("/etc/passwd");`, "fs module"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.Validate(tt.script, domain.LanguageJavaScript)
			if res.Valid {
				t.Fatalf("Validate(%q) = valid, want invalid", tt.script)
			}
			if len(res.Errors) == 0 {
				t.Fatal("expected at least one error")
			}
			if !strings.Contains(res.Errors[0], tt.wantMsg) {
				t.Errorf("error = %q, want mention of %q", res.Errors[0], tt.wantMsg)
			}
		})
	}
}

func TestValidator_CleanScript(t *testing.T) {
	v := NewValidator()

	script := `
const users = await db.collection("users").find({ active: true }).toArray();
output.data(users);
return users.length;
`
	res := v.Validate(script, domain.LanguageJavaScript)
	if !res.Valid {
		t.Fatalf("clean script rejected: %v", res.Errors)
	}
	if len(res.Errors) != 0 {
		t.Errorf("errors = %v, want none", res.Errors)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("warnings = %v, want none", res.Warnings)
	}
}

func TestValidator_Warnings(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name         string
		script       string
		wantSeverity string
	}{
		{"collection drop", `await db.collection("old_logs").drop();`, "CRITICAL"},
		{"drop database", `db.dropDatabase();`, "CRITICAL"},
		{"unfiltered delete", `await db.collection("x").deleteMany({});`, "CRITICAL"},
		{"unfiltered update", `await db.collection("x").updateMany({}, { $set: { flag: true } });`, "CRITICAL"},
		{"drop index", `db.collection("x").dropIndex("idx_a");`, "HIGH"},
		{"create index", `db.collection("x").createIndex({ email: 1 });`, "MEDIUM"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.Validate(tt.script, domain.LanguageJavaScript)
			if !res.Valid {
				t.Fatalf("warnings must not block execution, got errors: %v", res.Errors)
			}
			if len(res.Warnings) == 0 {
				t.Fatal("expected a warning")
			}
			if !strings.HasPrefix(res.Warnings[0], tt.wantSeverity+":") {
				t.Errorf("warning = %q, want severity prefix %q", res.Warnings[0], tt.wantSeverity)
			}
		})
	}
}

func TestValidator_MultipleWarningsKeepDetectionOrder(t *testing.T) {
	v := NewValidator()

	script := `
db.collection("a").createIndex({ x: 1 });
db.collection("b").drop();
`
	res := v.Validate(script, domain.LanguageJavaScript)
	if !res.Valid {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
	if len(res.Warnings) != 2 {
		t.Fatalf("warnings = %v, want 2", res.Warnings)
	}
	// Pattern scan order, not script order.
	if !strings.HasPrefix(res.Warnings[0], "CRITICAL:") {
		t.Errorf("warnings[0] = %q, want CRITICAL first", res.Warnings[0])
	}
	if !strings.HasPrefix(res.Warnings[1], "MEDIUM:") {
		t.Errorf("warnings[1] = %q, want MEDIUM second", res.Warnings[1])
	}
}

func TestValidator_SyntaxErrorShortCircuits(t *testing.T) {
	v := NewValidator()

	// Broken syntax and a blocked construct together: only the syntax
	// error is reported.
	script := `const creds = process.env; if (creds {`
	res := v.Validate(script, domain.LanguageJavaScript)
	if res.Valid {
		t.Fatal("expected invalid result")
	}
	if len(res.Errors) != 1 {
		t.Fatalf("errors = %v, want exactly one syntax error", res.Errors)
	}
	if !strings.Contains(res.Errors[0], "syntax error") {
		t.Errorf("error = %q, want a syntax error", res.Errors[0])
	}
	if !res.syntaxError {
		t.Error("syntaxError flag not set")
	}
}

func TestValidator_SyntaxErrorReportsLine(t *testing.T) {
	v := NewValidator()

	script := "const a = 1;\nconst b = ((;\n"
	res := v.Validate(script, domain.LanguageJavaScript)
	if res.Valid {
		t.Fatal("expected invalid result")
	}
	if !strings.Contains(res.Errors[0], "line 2") {
		t.Errorf("error = %q, want line 2", res.Errors[0])
	}
}

func TestValidator_Python(t *testing.T) {
	v := NewValidator()

	good := "rows = db.query(\"SELECT count(*) FROM users\")\nresult = rows[0]\n"
	if res := v.Validate(good, domain.LanguagePython); !res.Valid {
		t.Fatalf("valid python rejected: %v", res.Errors)
	}

	bad := "def f(:\n    pass\n"
	res := v.Validate(bad, domain.LanguagePython)
	if res.Valid {
		t.Fatal("broken python accepted")
	}
	if !strings.Contains(res.Errors[0], "python syntax error") {
		t.Errorf("error = %q, want python syntax error", res.Errors[0])
	}
}

func TestValidator_PythonScriptNotBlockedByJSPatterns(t *testing.T) {
	v := NewValidator()

	// "process" as a plain identifier is fine; the blocked pattern is the
	// member-access form.
	script := "process = 1\nrows = db.query(\"SELECT 1\")\n"
	res := v.Validate(script, domain.LanguagePython)
	if !res.Valid {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
}
