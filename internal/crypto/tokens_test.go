package crypto

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestShortID_Format(t *testing.T) {
	for i := 0; i < 100; i++ {
		id := ShortID()
		if len(id) != 7 {
			t.Fatalf("len(%q) = %d, want 7", id, len(id))
		}
		for _, r := range id {
			if !strings.ContainsRune(shortIDAlpha, r) {
				t.Fatalf("id %q contains %q outside base36", id, r)
			}
		}
	}
}

func TestShortID_Distinct(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := ShortID()
		if seen[id] {
			t.Fatalf("duplicate short id %q after %d draws", id, i)
		}
		seen[id] = true
	}
}

func TestDeleteToken(t *testing.T) {
	a, b := DeleteToken(), DeleteToken()
	if len(a) != 32 {
		t.Fatalf("token length = %d, want 32", len(a))
	}
	if a == b {
		t.Fatal("two tokens should differ")
	}
}

func TestChecksum(t *testing.T) {
	c := ChecksumWriter()
	if _, err := io.Copy(c, strings.NewReader("abc")); err != nil {
		t.Fatal(err)
	}
	// SHA3-256("abc")
	want := "3a985da74fe225b2045c172d6bd390bd855f086e3e9d525b46bfe24511431532"
	if got := c.Sum(); got != want {
		t.Errorf("Sum = %s, want %s", got, want)
	}
}

func TestCheckPasswordStrength(t *testing.T) {
	tests := []struct {
		password string
		want     error
	}{
		{"a1!", ErrPasswordTooShort},
		{"12345678!", ErrPasswordNoLetter},
		{"abcdefgh!", ErrPasswordNoDigit},
		{"abcdefgh1", ErrPasswordNoSymbol},
		{"abcdefg1!", nil},
		{"Sup3r$ecret", nil},
	}
	for _, tt := range tests {
		err := CheckPasswordStrength(tt.password)
		if !errors.Is(err, tt.want) {
			t.Errorf("CheckPasswordStrength(%q) = %v, want %v", tt.password, err, tt.want)
		}
	}
}
