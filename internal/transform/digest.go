package transform

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// PathHashLen is the encoded length of HashPath output (64 bytes, padded base64).
var PathHashLen = base64.URLEncoding.EncodedLen(blake2b.Size)

// HashPath computes the natural key of a corrected path: BLAKE2b-512 over
// the UTF-8 bytes, URL-safe base64 encoded.
func HashPath(path string) (string, error) {
	h, err := blake2b.New512(nil)
	if err != nil {
		return "", fail(StepHashPath, path, err)
	}
	if _, err := h.Write([]byte(path)); err != nil {
		return "", fail(StepHashPath, path, err)
	}
	return base64.URLEncoding.EncodeToString(h.Sum(nil)), nil
}

// ReencodeHash converts a hex content hash to URL-safe base64. An empty
// input stays empty.
func ReencodeHash(hexHash string) (string, error) {
	if hexHash == "" {
		return "", nil
	}
	raw, err := hex.DecodeString(hexHash)
	if err != nil {
		return "", fail(StepReencodeHash, hexHash, err)
	}
	return base64.URLEncoding.EncodeToString(raw), nil
}

// DecodeHash reverses ReencodeHash, returning lowercase hex.
func DecodeHash(token string) (string, error) {
	if token == "" {
		return "", nil
	}
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("invalid hash token %q: %w", token, err)
	}
	return hex.EncodeToString(raw), nil
}
