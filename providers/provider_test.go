package providers

import "testing"

func TestParseBoolClaim(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want bool
	}{
		{"bool true", true, true},
		{"bool false", false, false},
		{"string true", "true", true},
		{"string false", "false", false},
		{"string garbage", "yes", false},
		{"nil", nil, false},
		{"number", float64(1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseBoolClaim(tt.in); got != tt.want {
				t.Errorf("ParseBoolClaim(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestStringClaim(t *testing.T) {
	claims := map[string]any{
		"email": "user@example.com",
		"count": float64(3),
	}
	if got := StringClaim(claims, "email"); got != "user@example.com" {
		t.Errorf("StringClaim(email) = %q", got)
	}
	if got := StringClaim(claims, "count"); got != "" {
		t.Errorf("StringClaim(count) = %q, want empty for non-string", got)
	}
	if got := StringClaim(claims, "missing"); got != "" {
		t.Errorf("StringClaim(missing) = %q, want empty", got)
	}
}
