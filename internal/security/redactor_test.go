package security

import (
	"regexp"
	"strings"
	"testing"
)

func TestRedactor_DefaultPatterns(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "bearer header",
			input: "Authorization: Bearer abc.def-ghi",
			want:  "Authorization: Bearer " + RedactPlaceholder,
		},
		{
			name:  "lowercase bearer",
			input: "sent bearer tok123== upstream",
			want:  "sent bearer " + RedactPlaceholder + " upstream",
		},
		{
			name:  "postgres url password",
			input: "dial postgres://divsync:hunter2@db:5432/divsync failed",
			want:  "dial postgres://divsync:" + RedactPlaceholder + "@db:5432/divsync failed",
		},
		{
			name:  "redis url without user",
			input: "redis://:s3cret@cache:6379/0",
			want:  "redis://:" + RedactPlaceholder + "@cache:6379/0",
		},
		{
			name:  "url without credentials",
			input: "GET https://api.example.com:8443/v1/sessions",
			want:  "GET https://api.example.com:8443/v1/sessions",
		},
		{
			name:  "key value dsn",
			input: "host=db user=divsync password=hunter2 sslmode=disable",
			want:  "host=db user=divsync password=" + RedactPlaceholder + " sslmode=disable",
		},
		{
			name:  "quoted key value dsn",
			input: "password='with space' dbname=x",
			want:  "password=" + RedactPlaceholder + " dbname=x",
		},
		{
			name:  "no secrets",
			input: "synced 100 records",
			want:  "synced 100 records",
		},
		{
			name:  "empty string",
			input: "",
			want:  "",
		},
	}

	r := NewRedactor()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := r.Redact(tt.input); got != tt.want {
				t.Errorf("Redact(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestRedactor_Literals(t *testing.T) {
	t.Parallel()

	r := NewRedactor()
	r.AddLiteral("source-token-value")
	r.AddLiteral("source-token-value") // duplicate ignored
	r.AddLiteral("")

	got := r.Redact("fetch with source-token-value failed")
	want := "fetch with " + RedactPlaceholder + " failed"
	if got != want {
		t.Errorf("Redact() = %q, want %q", got, want)
	}
	if n := len(r.literals); n != 1 {
		t.Errorf("literals = %d, want 1", n)
	}
}

func TestRedactor_RedactMap(t *testing.T) {
	t.Parallel()

	r := NewRedactor()
	m := map[string]any{
		"node_id": "node-a",
		"modules": map[string]any{
			"store.postgres": map[string]any{
				"dsn":      "postgres://u:p@db/x",
				"max_open": 10,
			},
			"source.http": map[string]any{
				"base_url":  "https://api.example.com",
				"token_env": "DIVSYNC_SOURCE_TOKEN",
				"headers": []any{
					map[string]any{"authorization": "Bearer xyz"},
				},
			},
		},
		"note": "redis://:pw@cache:6379",
	}

	r.RedactMap(m)

	modules := m["modules"].(map[string]any)
	pg := modules["store.postgres"].(map[string]any)
	if pg["dsn"] != RedactPlaceholder {
		t.Errorf("dsn = %v, want redacted", pg["dsn"])
	}
	if pg["max_open"] != 10 {
		t.Errorf("max_open = %v, want untouched", pg["max_open"])
	}

	src := modules["source.http"].(map[string]any)
	if src["base_url"] != "https://api.example.com" {
		t.Errorf("base_url = %v, want untouched", src["base_url"])
	}
	// token_env holds a variable name, but the key still looks secret.
	if src["token_env"] != RedactPlaceholder {
		t.Errorf("token_env = %v, want redacted", src["token_env"])
	}
	hdr := src["headers"].([]any)[0].(map[string]any)
	if hdr["authorization"] != RedactPlaceholder {
		t.Errorf("authorization = %v, want redacted", hdr["authorization"])
	}

	if m["note"] != "redis://:"+RedactPlaceholder+"@cache:6379" {
		t.Errorf("note = %v", m["note"])
	}
	if m["node_id"] != "node-a" {
		t.Errorf("node_id = %v", m["node_id"])
	}
}

func TestRedactor_AddPattern(t *testing.T) {
	t.Parallel()

	r := &Redactor{}
	r.AddPattern(regexp.MustCompile(`div-[0-9]{4}`))
	r.AddPattern(regexp.MustCompile(`key=(?P<secret>\w+)`))

	got := r.Redact("div-1234 key=abc")
	want := RedactPlaceholder + " key=" + RedactPlaceholder
	if got != want {
		t.Errorf("Redact() = %q, want %q", got, want)
	}
}

func TestIsSecretKey(t *testing.T) {
	t.Parallel()

	for _, k := range []string{"token", "DSN", "api_key", "Authorization", "redis_password"} {
		if !IsSecretKey(k) {
			t.Errorf("IsSecretKey(%q) = false", k)
		}
	}
	for _, k := range []string{"job", "run_id", "cursor", "holder"} {
		if IsSecretKey(k) {
			t.Errorf("IsSecretKey(%q) = true", k)
		}
	}
}

func FuzzRedactor(f *testing.F) {
	f.Add("Bearer abc")
	f.Add("postgres://u:p@h/db")
	f.Add("password=x")
	f.Add("")

	r := NewRedactor()
	r.AddLiteral("literal-secret")
	f.Fuzz(func(t *testing.T, s string) {
		out := r.Redact(s)
		if strings.Contains(s, "literal-secret") && strings.Contains(out, "literal-secret") {
			t.Errorf("literal survived redaction: %q", out)
		}
	})
}
