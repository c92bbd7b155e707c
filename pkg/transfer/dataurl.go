package transfer

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// EncodeDataURL renders blob as "data:<mime>;base64,<payload>".
// The mime type is sniffed from the bytes; parameters such as charset are dropped.
func EncodeDataURL(blob []byte) string {
	mime := mimetype.Detect(blob).String()
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(blob)
}

// DecodeDataURL is the inverse of EncodeDataURL. A bare base64 payload
// without the "data:" header is accepted too.
func DecodeDataURL(s string) ([]byte, error) {
	payload := s
	if strings.HasPrefix(s, "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 {
			return nil, fmt.Errorf("data url has no payload")
		}
		if !strings.HasSuffix(s[:comma], ";base64") {
			return nil, fmt.Errorf("data url is not base64 encoded")
		}
		payload = s[comma+1:]
	}

	blob, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// Some encoders strip padding.
		if raw, rawErr := base64.RawStdEncoding.DecodeString(payload); rawErr == nil {
			return raw, nil
		}
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return blob, nil
}
