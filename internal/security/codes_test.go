package security

import (
	"strings"
	"testing"
)

func TestGenerateCode_AlphabetAndLength(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := GenerateCode(6)
		if err != nil {
			t.Fatalf("GenerateCode: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("len = %d, want 6", len(code))
		}
		for _, c := range code {
			if !strings.ContainsRune(CodeAlphabet, c) {
				t.Fatalf("code %q contains %q outside alphabet", code, c)
			}
		}
	}
}

func TestCodeAlphabet_NoConfusables(t *testing.T) {
	for _, c := range "I0" {
		if strings.ContainsRune(CodeAlphabet, c) {
			t.Errorf("alphabet contains confusable %q", c)
		}
	}
}

func TestGenerateCode_InvalidLength(t *testing.T) {
	if _, err := GenerateCode(0); err != ErrInvalidCodeLength {
		t.Errorf("GenerateCode(0): want ErrInvalidCodeLength, got %v", err)
	}
}

func TestGenerateOpaqueToken(t *testing.T) {
	a, err := GenerateOpaqueToken()
	if err != nil {
		t.Fatalf("GenerateOpaqueToken: %v", err)
	}
	b, _ := GenerateOpaqueToken()
	if a == b {
		t.Error("tokens should be unique")
	}
	if len(a) != 43 {
		t.Errorf("len = %d, want 43 (32 bytes base64url)", len(a))
	}
	if strings.ContainsAny(a, "+/=") {
		t.Errorf("token %q is not raw base64url", a)
	}
}
