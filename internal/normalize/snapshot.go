// Package normalize maps the loosely shaped payloads returned by the
// automation gateway into a single Snapshot. Nothing downstream of this
// package looks at raw gateway payloads.
package normalize

import (
	"regexp"
	"strings"

	"github.com/spf13/cast"
)

// Canonical status values produced by Normalize. Any other gateway status is
// passed through lower-cased.
const (
	StatusOnline     = "online"
	StatusOffline    = "offline"
	StatusConnecting = "connecting"
)

// Snapshot is the normalized result of one gateway response. Every field is
// nil when the payload did not carry a usable value for it.
type Snapshot struct {
	Name       *string `json:"name"`
	Status     *string `json:"status"`
	QRImage    *string `json:"qrImage"`
	LastUpdate *string `json:"lastUpdate"`
	Connecting bool    `json:"connecting"`
}

// Alias keys per logical field, tried in order. First non-empty value wins.
var (
	nameKeys       = []string{"instancia", "name", "instance", "instanceName", "id", "instanciaName"}
	statusKeys     = []string{"connectionStatus", "status", "state", "statusText", "connectionstatus"}
	qrKeys         = []string{"qrCode", "qr", "qrcode", "qr_data", "dataUrl"}
	lastUpdateKeys = []string{"lastUpdate", "updatedAt", "updated_at", "timestamp"}
)

var statusAliases = map[string]string{
	"open":         StatusOnline,
	"online":       StatusOnline,
	"connected":    StatusOnline,
	"closed":       StatusOffline,
	"offline":      StatusOffline,
	"disconnected": StatusOffline,
	"connecting":   StatusConnecting,
	"pending":      StatusConnecting,
}

var placeholder = regexp.MustCompile(`{{[^}]*}}`)

// Normalize converts a decoded gateway payload into a Snapshot. It returns nil
// for absent payloads, empty lists and payloads that are not objects.
func Normalize(payload any) *Snapshot {
	obj, ok := Unwrap(payload)
	if !ok {
		return nil
	}

	snap := &Snapshot{
		Name:       pick(obj, nameKeys),
		QRImage:    pick(obj, qrKeys),
		LastUpdate: pick(obj, lastUpdateKeys),
	}

	if raw := pick(obj, statusKeys); raw != nil {
		s := CanonicalStatus(*raw)
		snap.Status = &s
	}
	if v, ok := obj["connected"]; ok {
		if connected, ok := flag(v); ok {
			switch {
			case connected:
				s := StatusOnline
				snap.Status = &s
			case snap.Status == nil:
				s := StatusOffline
				snap.Status = &s
			}
		}
	}

	if v, ok := obj["connecting"]; ok && isTrue(v) {
		snap.Connecting = true
	} else {
		snap.Connecting = snap.Is(StatusConnecting)
	}
	return snap
}

// CanonicalStatus maps a gateway status word to the canonical vocabulary.
func CanonicalStatus(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if canonical, ok := statusAliases[s]; ok {
		return canonical
	}
	return s
}

// Is reports whether the snapshot carries the given canonical status.
func (s *Snapshot) Is(status string) bool {
	return s != nil && s.Status != nil && *s.Status == status
}

// Unwrap returns the object Normalize reads fields from: the first list
// element, then its "data" object or first "data" element. At most one level
// of data nesting is followed.
func Unwrap(payload any) (map[string]any, bool) {
	v := payload
	switch list := v.(type) {
	case []any:
		if len(list) == 0 {
			return nil, false
		}
		v = list[0]
	case []map[string]any:
		if len(list) == 0 {
			return nil, false
		}
		v = list[0]
	}

	obj, ok := v.(map[string]any)
	if !ok || obj == nil {
		return nil, false
	}

	switch data := obj["data"].(type) {
	case []any:
		if len(data) > 0 {
			if inner, ok := data[0].(map[string]any); ok {
				return inner, true
			}
		}
	case []map[string]any:
		if len(data) > 0 && data[0] != nil {
			return data[0], true
		}
	case map[string]any:
		if data != nil {
			return data, true
		}
	}
	return obj, true
}

func pick(obj map[string]any, keys []string) *string {
	for _, k := range keys {
		v, ok := obj[k]
		if !ok {
			continue
		}
		if s := clean(v); s != nil {
			return s
		}
	}
	return nil
}

// clean stringifies scalars and strips unresolved {{...}} template
// placeholders. A value that is empty after stripping yields nil.
func clean(v any) *string {
	switch v.(type) {
	case nil, map[string]any, []any:
		return nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return nil
	}
	s = strings.TrimSpace(placeholder.ReplaceAllString(s, ""))
	if s == "" {
		return nil
	}
	return &s
}

// flag reads a gateway boolean. Only true/false and the exact strings
// "true"/"false" count.
func flag(v any) (value, ok bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch strings.TrimSpace(b) {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	}
	return false, false
}

func isTrue(v any) bool {
	b, ok := flag(v)
	return ok && b
}
