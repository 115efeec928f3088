package classify

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// DecodeImage turns base64 image data, with or without a data: URL prefix,
// into raw bytes.
func DecodeImage(payload string) ([]byte, error) {
	s := strings.TrimSpace(payload)
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	img, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		img, err = base64.RawStdEncoding.DecodeString(s)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding image data: %w", err)
	}
	return img, nil
}
