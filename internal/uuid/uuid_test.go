package uuid

import "testing"

// TestNew verifies generated ids are valid v4 and unique.
func TestNew(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := New()
		if !IsValid(id) {
			t.Fatalf("New() produced invalid UUID v4: %q", id)
		}
		if seen[id] {
			t.Fatalf("New() produced duplicate UUID: %q", id)
		}
		seen[id] = true
	}
}

// TestIsValid verifies strict v4 format checking.
func TestIsValid(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"valid v4", "9b2d44d0-6f5c-4a1e-8c3f-0a9d1e2b3c4d", true},
		{"uppercase hex", "9B2D44D0-6F5C-4A1E-8C3F-0A9D1E2B3C4D", true},
		{"wrong version", "9b2d44d0-6f5c-1a1e-8c3f-0a9d1e2b3c4d", false},
		{"wrong variant", "9b2d44d0-6f5c-4a1e-1c3f-0a9d1e2b3c4d", false},
		{"no dashes", "9b2d44d06f5c4a1e8c3f0a9d1e2b3c4d", false},
		{"empty", "", false},
		{"garbage", "not-a-uuid", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValid(tt.input); got != tt.want {
				t.Errorf("IsValid(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

// TestValidate verifies the error form.
func TestValidate(t *testing.T) {
	if err := Validate(New()); err != nil {
		t.Errorf("Validate() on generated id returned error: %v", err)
	}
	if err := Validate("bogus"); err == nil {
		t.Error("Validate() should reject a non-UUID string")
	}
}
