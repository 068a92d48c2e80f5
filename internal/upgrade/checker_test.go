package upgrade

import (
	"errors"
	"strings"
	"testing"
)

func TestEvaluate(t *testing.T) {
	cases := []struct {
		name    string
		version uint
		dirty   bool
		want    error
	}{
		{"current", RequiredSchemaVersion, false, nil},
		{"outdated", 0, false, ErrSchemaOutdated},
		{"ahead", RequiredSchemaVersion + 1, false, ErrSchemaAhead},
		{"dirty", RequiredSchemaVersion, true, ErrSchemaDirty},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := Evaluate(tc.version, tc.dirty).Err(); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestFormatError(t *testing.T) {
	if msg := FormatError(Evaluate(1, true)); !strings.Contains(msg, "migrate force 0") {
		t.Fatalf("expected force hint, got %q", msg)
	}
	if msg := FormatError(Evaluate(0, false)); !strings.Contains(msg, "migrate up") {
		t.Fatalf("expected migrate hint, got %q", msg)
	}
	if msg := FormatError(Evaluate(RequiredSchemaVersion+3, false)); !strings.Contains(msg, "newer than this binary") {
		t.Fatalf("expected ahead message, got %q", msg)
	}
}
