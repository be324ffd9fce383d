// internal/storage/models.go
package storage

import "time"

// Upload is one registered image. StoragePath is the key of the bytes in the
// blob store, never exposed in public URLs.
type Upload struct {
	ShortID      string `json:"short_id"`
	OwnerID      string `json:"owner_id"`
	OriginalName string `json:"original"`
	StoragePath  string `json:"path"`
	MimeType     string `json:"mime_type,omitempty"`
	Size         int64  `json:"size"`
	Checksum     string `json:"checksum,omitempty"`
	CreatedAt    int64  `json:"timestamp"` // unix milliseconds
	DeleteToken  string `json:"delete_token"`
	Views        int64  `json:"views"`
}

// Created returns CreatedAt as a time.Time.
func (u Upload) Created() time.Time {
	return time.UnixMilli(u.CreatedAt)
}

type AdminCredential struct {
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"`
}
