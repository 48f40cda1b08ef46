package totp

import (
	"errors"
	"testing"
	"time"
)

// Base32 encoding of the RFC 6238 test secret "12345678901234567890".
const rfcSecret = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"

func TestGenerateRFCVector(t *testing.T) {
	// RFC 6238 appendix B, T=59, truncated to six digits.
	code, err := Generate(rfcSecret, time.Unix(59, 0))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if code.Token != "287082" {
		t.Fatalf("Token = %q, want %q", code.Token, "287082")
	}
}

func TestSecondsRemaining(t *testing.T) {
	tests := []struct {
		unix int64
		want int
	}{
		{0, 29},
		{1, 28},
		{29, 0},
		{30, 29},
		{59, 0},
	}
	for _, tt := range tests {
		code, err := Generate(rfcSecret, time.Unix(tt.unix, 0))
		if err != nil {
			t.Fatalf("Generate(t=%d): %v", tt.unix, err)
		}
		if code.SecondsRemaining != tt.want {
			t.Errorf("SecondsRemaining at t=%d = %d, want %d", tt.unix, code.SecondsRemaining, tt.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"gezd gnbv gy3t qojq", "GEZDGNBVGY3TQOJQ"},
		{"GEZD-GNBV", "GEZDGNBV"},
		{"  gezdgnbv\t", "GEZDGNBV"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGenerateNormalizesSecret(t *testing.T) {
	got, err := Generate("gezd gnbv gy3t qojq gezd gnbv gy3t qojq", time.Unix(59, 0))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got.Token != "287082" {
		t.Fatalf("Token = %q, want %q", got.Token, "287082")
	}
}

func TestGenerateInvalidSecret(t *testing.T) {
	for _, secret := range []string{"", "   ", "not base32 !!!"} {
		if _, err := Generate(secret, time.Now()); !errors.Is(err, ErrInvalidSecretFormat) {
			t.Errorf("Generate(%q) err = %v, want ErrInvalidSecretFormat", secret, err)
		}
	}
}

func TestVerify(t *testing.T) {
	at := time.Unix(59, 0)
	if !Verify("287082", rfcSecret, at) {
		t.Fatal("Verify rejected a valid passcode")
	}
	// One step of skew is accepted.
	if !Verify("287082", rfcSecret, at.Add(30*time.Second)) {
		t.Fatal("Verify rejected a passcode one step old")
	}
	if Verify("000000", rfcSecret, at) {
		t.Fatal("Verify accepted a wrong passcode")
	}
}
