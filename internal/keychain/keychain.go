package keychain

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

const (
	// KeySize is the symmetric key length issued by the keychain service.
	KeySize = 32
	// IVSize is the CBC initialization vector length.
	IVSize = aes.BlockSize
)

// DecryptionError reports an integrity or padding failure for one record.
type DecryptionError struct {
	Reason string
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("decryption failed: %s", e.Reason)
}

// Keychain is a time-windowed key/IV bundle covering the half-open interval
// [Start, End) of the recording timeline, in milliseconds from flight start.
type Keychain struct {
	Start int64
	End   int64

	key []byte
	iv  []byte
}

// New validates the key material and returns a usable keychain.
func New(start, end int64, key, iv []byte) (Keychain, error) {
	if len(key) != KeySize {
		return Keychain{}, fmt.Errorf("keychain key must be %d bytes, got %d", KeySize, len(key))
	}
	if len(iv) != IVSize {
		return Keychain{}, fmt.Errorf("keychain iv must be %d bytes, got %d", IVSize, len(iv))
	}
	if end <= start {
		return Keychain{}, fmt.Errorf("keychain window [%d,%d) is empty", start, end)
	}
	k := Keychain{Start: start, End: end, key: make([]byte, KeySize), iv: make([]byte, IVSize)}
	copy(k.key, key)
	copy(k.iv, iv)
	return k, nil
}

// Covers reports whether tick falls inside the keychain's validity window.
func (k Keychain) Covers(tick int64) bool {
	return tick >= k.Start && tick < k.End
}

// Decrypt reverses AES-256-CBC with PKCS#7 padding over one record payload.
func (k Keychain) Decrypt(cipherText []byte) ([]byte, error) {
	if len(cipherText) == 0 || len(cipherText)%aes.BlockSize != 0 {
		return nil, &DecryptionError{Reason: fmt.Sprintf("ciphertext length %d is not a positive multiple of the block size", len(cipherText))}
	}
	block, err := aes.NewCipher(k.key)
	if err != nil {
		return nil, &DecryptionError{Reason: err.Error()}
	}
	plain := make([]byte, len(cipherText))
	cipher.NewCBCDecrypter(block, k.iv).CryptBlocks(plain, cipherText)
	return stripPKCS7(plain)
}

// Encrypt is the forward AES-256-CBC transform with PKCS#7 padding. The
// decoder never encrypts; sample generators and test fixtures do.
func (k Keychain) Encrypt(plain []byte) ([]byte, error) {
	block, err := aes.NewCipher(k.key)
	if err != nil {
		return nil, err
	}
	pad := aes.BlockSize - len(plain)%aes.BlockSize
	padded := make([]byte, len(plain)+pad)
	copy(padded, plain)
	for i := len(plain); i < len(padded); i++ {
		padded[i] = byte(pad)
	}
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, k.iv).CryptBlocks(out, padded)
	return out, nil
}

func stripPKCS7(plain []byte) ([]byte, error) {
	pad := int(plain[len(plain)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(plain) {
		return nil, &DecryptionError{Reason: "invalid padding length"}
	}
	for _, b := range plain[len(plain)-pad:] {
		if int(b) != pad {
			return nil, &DecryptionError{Reason: "inconsistent padding bytes"}
		}
	}
	return plain[:len(plain)-pad], nil
}

// Set holds every keychain fetched for one decode session. It is owned by
// that session and never shared across files.
type Set []Keychain

// Find returns the keychain whose window covers tick.
func (s Set) Find(tick int64) (Keychain, bool) {
	for _, k := range s {
		if k.Covers(tick) {
			return k, true
		}
	}
	return Keychain{}, false
}
