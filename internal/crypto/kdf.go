package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	argonTime    = 3
	argonMemory  = 64 * 1024 // 64 MB
	argonThreads = 4
	keyLen       = 32 // 256 bits
	saltLen      = 32
)

func DeriveKey(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, keyLen)
}

func GenerateSalt() []byte {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return salt
}

// HashPassword returns salt || argon2id(password, salt).
func HashPassword(password string) []byte {
	salt := GenerateSalt()
	hash := DeriveKey(password, salt)
	result := make([]byte, saltLen+keyLen)
	copy(result[:saltLen], salt)
	copy(result[saltLen:], hash)
	return result
}

func VerifyPassword(password string, storedHash []byte) bool {
	if len(storedHash) < saltLen+keyLen {
		return false
	}
	salt := storedHash[:saltLen]
	hash := storedHash[saltLen:]
	computed := DeriveKey(password, salt)
	return hmac.Equal(hash, computed)
}

// EncodePassword hashes password and hex-encodes the result for storage in
// text files.
func EncodePassword(password string) string {
	return hex.EncodeToString(HashPassword(password))
}

// VerifyEncoded checks password against a stored text hash. Hashes starting
// with "$2" are bcrypt (as produced by htpasswd); anything else is the hex
// form written by EncodePassword.
func VerifyEncoded(password, encoded string) bool {
	if strings.HasPrefix(encoded, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password)) == nil
	}
	raw, err := hex.DecodeString(encoded)
	if err != nil {
		return false
	}
	return VerifyPassword(password, raw)
}
