package middleware

import (
	"context"
	"testing"
)

func TestWithIdentity(t *testing.T) {
	ctx := WithIdentity(context.Background(), "u1", "d1", "jti-1")
	if v, ok := GetUserID(ctx); !ok || v != "u1" {
		t.Errorf("GetUserID = %q, %v", v, ok)
	}
	if v, ok := GetDeviceID(ctx); !ok || v != "d1" {
		t.Errorf("GetDeviceID = %q, %v", v, ok)
	}
	if v, ok := GetTokenID(ctx); !ok || v != "jti-1" {
		t.Errorf("GetTokenID = %q, %v", v, ok)
	}
}

func TestGetters_EmptyContext(t *testing.T) {
	ctx := context.Background()
	if _, ok := GetUserID(ctx); ok {
		t.Error("GetUserID should report false on empty context")
	}
	if _, ok := GetDeviceID(ctx); ok {
		t.Error("GetDeviceID should report false on empty context")
	}
	if _, ok := GetWebCaller(ctx); ok {
		t.Error("GetWebCaller should report false on empty context")
	}
	if GetRequestID(ctx) != "" {
		t.Error("GetRequestID should be empty")
	}
}
