package report

import (
	"fmt"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// FingerprintQR creates a QR code PNG encoding the flight log's SHA-256
// fingerprint, so a printed report can be matched back to the exact file.
func FingerprintQR(fingerprint string, size int) ([]byte, error) {
	normalized := sanitizeFingerprint(fingerprint)
	if normalized == "" {
		return nil, fmt.Errorf("fingerprint is empty")
	}
	if size <= 0 {
		size = 128
	}
	png, err := qrcode.Encode(normalized, qrcode.Medium, size)
	if err != nil {
		return nil, err
	}
	return png, nil
}

func sanitizeFingerprint(fingerprint string) string {
	upper := strings.ToUpper(strings.TrimSpace(fingerprint))
	if upper == "" {
		return ""
	}
	var b strings.Builder
	for _, r := range upper {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'F':
			b.WriteRune(r)
		}
	}
	return b.String()
}
