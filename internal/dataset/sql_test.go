package dataset

import (
	"strings"
	"testing"

	"github.com/nitro41992/cleanslate/pkg/core"
)

func TestQuoteIdent(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"name", `"name"`},
		{"first name", `"first name"`},
		{`odd"col`, `"odd""col"`},
	}
	for _, tt := range tests {
		if got := quoteIdent(tt.in); got != tt.want {
			t.Errorf("quoteIdent(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestQuoteString(t *testing.T) {
	if got := quoteString("O'Brien"); got != `'O''Brien'` {
		t.Errorf("quoteString = %s", got)
	}
}

func TestTransformExpr(t *testing.T) {
	tests := []struct {
		name    string
		params  core.Params
		want    string
		wantErr bool
	}{
		{
			name:   "trim",
			params: core.Params{"op": "trim"},
			want:   `trim("name")`,
		},
		{
			name:   "upper",
			params: core.Params{"op": "upper"},
			want:   `upper("name")`,
		},
		{
			name:   "lower",
			params: core.Params{"op": "lower"},
			want:   `lower("name")`,
		},
		{
			name:   "replace",
			params: core.Params{"op": "replace", "find": "Mr.", "with": "Dr."},
			want:   `replace("name", 'Mr.', 'Dr.')`,
		},
		{
			name:    "unknown op",
			params:  core.Params{"op": "sparkle"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := transformExpr("name", tt.params)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestScrubExpr(t *testing.T) {
	tests := []struct {
		name     string
		params   core.Params
		contains []string
		wantErr  bool
	}{
		{
			name:     "hash",
			params:   core.Params{"algorithm": "hash"},
			contains: []string{"md5", `"ssn"`},
		},
		{
			name:     "mask",
			params:   core.Params{"algorithm": "mask"},
			contains: []string{"repeat('*'", "length"},
		},
		{
			name:     "jitter default window",
			params:   core.Params{"algorithm": "jitter_days"},
			contains: []string{"random()", "61", "- 30"},
		},
		{
			name:     "jitter custom window",
			params:   core.Params{"algorithm": "jitter_days", "days": int64(7)},
			contains: []string{"15", "- 7"},
		},
		{
			name:     "scramble digits",
			params:   core.Params{"algorithm": "scramble_digits"},
			contains: []string{"regexp_replace", "[0-9]"},
		},
		{
			name:    "unknown algorithm",
			params:  core.Params{"algorithm": "rot13"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := scrubExpr("ssn", tt.params)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("expression %s should contain %s", got, want)
				}
			}
		})
	}
}

func TestValidTableName(t *testing.T) {
	valid := []string{"people", "People_2024", "_staging", "t"}
	for _, name := range valid {
		if !ValidTableName(name) {
			t.Errorf("expected %q to be valid", name)
		}
	}

	invalid := []string{"", "2people", "drop table", "people;--", "people.csv"}
	for _, name := range invalid {
		if ValidTableName(name) {
			t.Errorf("expected %q to be invalid", name)
		}
	}
}
