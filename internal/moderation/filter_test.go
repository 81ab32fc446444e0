package moderation

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestNewFilter(t *testing.T) {
	f := NewFilter()
	if f == nil {
		t.Fatal("NewFilter returned nil")
	}
	if len(f.terms) == 0 {
		t.Fatal("NewFilter created an empty filter")
	}
}

func TestCheck_SubstringMatching(t *testing.T) {
	f := NewFilterWithTerms([]string{"badword", "two words"})

	tests := []struct {
		name    string
		input   string
		blocked bool
		term    string
	}{
		{"exact match", "badword", true, "badword"},
		{"in sentence", "this is badword here", true, "badword"},
		{"case insensitive", "BADWORD", true, "badword"},
		{"mixed case", "BaDwOrD", true, "badword"},
		{"inside larger word", "mybadwording", true, "badword"},
		{"multi word term", "contains two words inside", true, "two words"},
		{"clean message", "hello world", false, ""},
		{"partial term only", "bad word split", false, ""},
		{"empty input", "", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := f.Check(tt.input)
			if result.Blocked != tt.blocked {
				t.Errorf("Check(%q).Blocked = %v, want %v", tt.input, result.Blocked, tt.blocked)
			}
			if tt.blocked && result.Term != tt.term {
				t.Errorf("Check(%q).Term = %q, want %q", tt.input, result.Term, tt.term)
			}
			if tt.blocked && result.Reason != "blocked_keyword" {
				t.Errorf("Check(%q).Reason = %q, want %q", tt.input, result.Reason, "blocked_keyword")
			}
		})
	}
}

func TestNewFilterWithTerms_NormalizesInput(t *testing.T) {
	f := NewFilterWithTerms([]string{"  LOUD  ", "", "ok"})

	if got := len(f.terms); got != 2 {
		t.Fatalf("expected 2 terms after normalization, got %d", got)
	}
	if !f.Check("very loud noise").Blocked {
		t.Error("expected uppercase term to match lowercased")
	}
}

func TestCheckLength(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		max     int
		wantErr bool
	}{
		{"under limit", "hello", 10, false},
		{"at limit", "hello", 5, false},
		{"over limit", "hello!", 5, true},
		{"empty", "", 5, false},
		{"runes not bytes", strings.Repeat("م", 15), 15, false},
		{"runes over", strings.Repeat("م", 16), 15, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckLength(tt.input, tt.max)
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckLength(%q, %d) error = %v, wantErr %v", tt.input, tt.max, err, tt.wantErr)
			}
		})
	}
}

func TestValidateImage(t *testing.T) {
	small := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("tinypng"))

	t.Run("valid image", func(t *testing.T) {
		size, err := ValidateImage(small, 1024)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if size != len("tinypng") {
			t.Errorf("expected decoded size %d, got %d", len("tinypng"), size)
		}
	})

	t.Run("not a data uri", func(t *testing.T) {
		if _, err := ValidateImage("https://example.com/cat.png", 1024); err == nil {
			t.Error("expected error for non data URI")
		}
	})

	t.Run("wrong media type", func(t *testing.T) {
		if _, err := ValidateImage("data:text/plain;base64,aGk=", 1024); err == nil {
			t.Error("expected error for non-image media type")
		}
	})

	t.Run("missing comma", func(t *testing.T) {
		if _, err := ValidateImage("data:image/png;base64", 1024); err == nil {
			t.Error("expected error for malformed data URI")
		}
	})

	t.Run("bad base64", func(t *testing.T) {
		if _, err := ValidateImage("data:image/png;base64,!!!!", 1024); err == nil {
			t.Error("expected error for invalid base64")
		}
	})

	t.Run("too large", func(t *testing.T) {
		big := "data:image/png;base64," + base64.StdEncoding.EncodeToString(make([]byte, 2048))
		if _, err := ValidateImage(big, 1024); err == nil {
			t.Error("expected error for oversized image")
		}
	})
}
