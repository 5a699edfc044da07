package engine

import (
	"context"
	"testing"
)

func TestOPAEvaluator_HealthCheck(t *testing.T) {
	e, err := NewOPAEvaluator(context.Background(), "")
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	if err := e.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestOPAEvaluator_DefaultPolicy(t *testing.T) {
	e, err := NewOPAEvaluator(context.Background(), "")
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	tests := []struct {
		name string
		in   ScopeInput
		want bool
	}{
		{"scope present", ScopeInput{Scopes: []string{"read:stats", "write:sessions"}, RequiredScope: "write:sessions"}, true},
		{"scope missing", ScopeInput{Scopes: []string{"read:stats"}, RequiredScope: "write:sessions"}, false},
		{"no scopes", ScopeInput{RequiredScope: "write:sessions"}, false},
		{"nothing required", ScopeInput{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Allow(context.Background(), tt.in)
			if err != nil {
				t.Fatalf("Allow: %v", err)
			}
			if got != tt.want {
				t.Errorf("Allow = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOPAEvaluator_CustomPolicy(t *testing.T) {
	module := `package distrack.authz

default allow := false

allow if {
	input.scopes[_] == input.required_scope
	input.device_id != "blocked-device"
}
`
	e, err := NewOPAEvaluator(context.Background(), module)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	in := ScopeInput{DeviceID: "blocked-device", Scopes: []string{"write:sessions"}, RequiredScope: "write:sessions"}
	if ok, _ := e.Allow(context.Background(), in); ok {
		t.Error("blocked device should be denied")
	}
	in.DeviceID = "d1"
	if ok, _ := e.Allow(context.Background(), in); !ok {
		t.Error("d1 should be allowed")
	}
}

func TestNewOPAEvaluator_InvalidPolicy(t *testing.T) {
	if _, err := NewOPAEvaluator(context.Background(), "package broken\nallow if {"); err == nil {
		t.Fatal("expected compile error")
	}
}
