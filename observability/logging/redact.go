package logging

import (
	"log/slog"
	"sort"
	"strings"
)

// RedactedValue replaces the value of a sensitive attribute.
const RedactedValue = "[REDACTED]"

// sensitiveKeys are attribute keys whose values never reach the sink in clear
// text: encrypted contact blobs, free-text dispute reasons and credentials.
var sensitiveKeys = map[string]struct{}{
	"contact":          {},
	"buyercontact":     {},
	"sellercontact":    {},
	"reason":           {},
	"disputereason":    {},
	"settlementreason": {},
	"authorization":    {},
	"capability":       {},
	"passphrase":       {},
	"secret":           {},
}

func normalizeKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	return strings.NewReplacer("_", "", "-", "").Replace(key)
}

// IsSensitive reports whether values logged under key are redacted. Matching
// ignores case, underscores and dashes.
func IsSensitive(key string) bool {
	_, ok := sensitiveKeys[normalizeKey(key)]
	return ok
}

// SensitiveKeys returns the redacted keys, sorted.
func SensitiveKeys() []string {
	keys := make([]string, 0, len(sensitiveKeys))
	for key := range sensitiveKeys {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Redact masks attr when its key is sensitive. Blank string values pass
// through so an absent contact stays distinguishable from a present one.
func Redact(attr slog.Attr) slog.Attr {
	if !IsSensitive(attr.Key) {
		return attr
	}
	if attr.Value.Kind() == slog.KindString && strings.TrimSpace(attr.Value.String()) == "" {
		return attr
	}
	return slog.String(attr.Key, RedactedValue)
}

// MaskField builds a string attribute, redacted when key is sensitive.
func MaskField(key, value string) slog.Attr {
	return Redact(slog.String(key, value))
}
