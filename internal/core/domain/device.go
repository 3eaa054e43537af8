package domain

import (
	"sort"
	"strings"
)

// Recognized device metadata keys. Other keys are accepted from clients but ignored.
const (
	DeviceKeyUserAgent = "userAgent"
	DeviceKeyPlatform  = "platform"
	DeviceKeyLanguage  = "language"
	DeviceKeyTimezone  = "timezone"
	DeviceKeyScreen    = "screen"
	// DeviceKeyBrowser is derived server-side from the user agent.
	DeviceKeyBrowser = "browser"
)

// FingerprintKeys lists the keys that contribute to a device fingerprint, in canonical order.
var FingerprintKeys = []string{
	DeviceKeyLanguage,
	DeviceKeyPlatform,
	DeviceKeyScreen,
	DeviceKeyTimezone,
	DeviceKeyUserAgent,
}

// DeviceMetadata is the loosely structured description a client sends about itself.
type DeviceMetadata map[string]string

// Get returns the trimmed value for key, matching keys case-insensitively.
func (m DeviceMetadata) Get(key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// Normalize keeps only recognized keys with non-empty values under their canonical names.
func (m DeviceMetadata) Normalize() DeviceMetadata {
	out := make(DeviceMetadata, len(FingerprintKeys))
	for _, key := range FingerprintKeys {
		if v := m.Get(key); v != "" {
			out[key] = v
		}
	}
	return out
}

// WithDefault sets key when the client did not supply it.
func (m DeviceMetadata) WithDefault(key, value string) DeviceMetadata {
	out := m.Normalize()
	value = strings.TrimSpace(value)
	if value != "" && out[key] == "" {
		out[key] = value
	}
	return out
}

// Public returns the non-sensitive subset persisted alongside a session.
// The raw user agent is excluded; only the derived browser family is kept.
func (m DeviceMetadata) Public() DeviceMetadata {
	norm := m.Normalize()
	out := make(DeviceMetadata, len(norm))
	for k, v := range norm {
		if k == DeviceKeyUserAgent {
			continue
		}
		out[k] = v
	}
	if browser := BrowserFamily(norm[DeviceKeyUserAgent]); browser != "" {
		out[DeviceKeyBrowser] = browser
	}
	return out
}

// Summary renders a short, partial device description such as "Firefox on Windows".
func (m DeviceMetadata) Summary() string {
	browser := m.Get(DeviceKeyBrowser)
	if browser == "" {
		browser = BrowserFamily(m.Get(DeviceKeyUserAgent))
	}
	platform := m.Get(DeviceKeyPlatform)

	switch {
	case browser != "" && platform != "":
		return browser + " on " + platform
	case browser != "":
		return browser
	case platform != "":
		return platform
	default:
		return "Unknown device"
	}
}

// Keys returns the metadata keys sorted.
func (m DeviceMetadata) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var browserMarkers = []struct {
	marker string
	name   string
}{
	{"Edg/", "Edge"},
	{"OPR/", "Opera"},
	{"Firefox/", "Firefox"},
	{"Chrome/", "Chrome"},
	{"Safari/", "Safari"},
}

// BrowserFamily extracts a coarse browser name from a user agent string.
func BrowserFamily(userAgent string) string {
	if userAgent == "" {
		return ""
	}
	for _, bm := range browserMarkers {
		if strings.Contains(userAgent, bm.marker) {
			return bm.name
		}
	}
	return "Other"
}
