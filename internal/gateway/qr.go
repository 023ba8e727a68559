package gateway

import (
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"
)

const qrSize = 256

// DataURI builds an embeddable data URI for data of the given MIME type.
func DataURI(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// EmbeddableQR returns s as something an <img> tag can render: data URIs
// pass through, SVG markup and raw base64 images get a declared MIME type,
// and anything else is taken as a bare pairing code and rendered to PNG.
func EmbeddableQR(s string) string {
	t := strings.TrimSpace(s)
	if t == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(t), "data:") {
		return t
	}
	if isSVG(t) {
		return DataURI("image/svg+xml", []byte(t))
	}
	// Gateways wrap long base64 bodies across lines.
	compact := strings.Join(strings.Fields(t), "")
	if raw, err := base64.StdEncoding.DecodeString(compact); err == nil && len(raw) > 0 {
		if mt := http.DetectContentType(raw); strings.HasPrefix(mt, "image/") {
			return "data:" + mt + ";base64," + compact
		}
	}

	png, err := qrcode.Encode(t, qrcode.Medium, qrSize)
	if err != nil {
		log.Warn().Err(err).Msg("failed to render pairing code as QR image")
		return t
	}
	return DataURI("image/png", png)
}

func isSVG(s string) bool {
	lower := strings.ToLower(strings.TrimSpace(s))
	return strings.HasPrefix(lower, "<svg") ||
		(strings.HasPrefix(lower, "<?xml") && strings.Contains(lower, "<svg"))
}
