package crypto

import (
	"bytes"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestDeriveKey_ProducesDeterministicOutput(t *testing.T) {
	password := "test-password-123"
	salt := []byte("0123456789abcdef0123456789abcdef") // 32 bytes

	key1 := DeriveKey(password, salt)
	key2 := DeriveKey(password, salt)

	if len(key1) != 32 {
		t.Fatalf("expected key length 32, got %d", len(key1))
	}

	if !bytes.Equal(key1, key2) {
		t.Fatal("same password and salt should produce the same key")
	}
}

func TestGenerateSalt(t *testing.T) {
	salt1 := GenerateSalt()
	salt2 := GenerateSalt()

	if len(salt1) != 32 {
		t.Fatalf("expected salt length 32, got %d", len(salt1))
	}
	if bytes.Equal(salt1, salt2) {
		t.Fatal("two generated salts should not be equal")
	}
}

func TestHashPassword_AndVerify(t *testing.T) {
	hash := HashPassword("my-secure-password")

	if !VerifyPassword("my-secure-password", hash) {
		t.Fatal("VerifyPassword should return true for the correct password")
	}
	if VerifyPassword("wrong-password", hash) {
		t.Fatal("VerifyPassword should return false for a wrong password")
	}
	if VerifyPassword("my-secure-password", hash[:10]) {
		t.Fatal("truncated hash must not verify")
	}
}

func TestVerifyEncoded_Argon(t *testing.T) {
	encoded := EncodePassword("s3cret!pass")

	if !VerifyEncoded("s3cret!pass", encoded) {
		t.Fatal("encoded argon hash should verify")
	}
	if VerifyEncoded("other", encoded) {
		t.Fatal("wrong password verified")
	}
	if VerifyEncoded("s3cret!pass", "zz-not-hex") {
		t.Fatal("garbage hash verified")
	}
}

func TestVerifyEncoded_Bcrypt(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("legacy-pass1!"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	if !VerifyEncoded("legacy-pass1!", string(hash)) {
		t.Fatal("bcrypt hash should verify")
	}
	if VerifyEncoded("nope", string(hash)) {
		t.Fatal("wrong password verified against bcrypt hash")
	}
}
