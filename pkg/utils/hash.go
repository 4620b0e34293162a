package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentSHA256 returns the hex SHA-256 of data. Used to tell a real page change
// from a file that was only touched.
func ContentSHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// StringSHA256 returns the hex SHA-256 of s
func StringSHA256(s string) string {
	return ContentSHA256([]byte(s))
}
