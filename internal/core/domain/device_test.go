package domain

import "testing"

func TestDeviceMetadataNormalize(t *testing.T) {
	meta := DeviceMetadata{
		"UserAgent": "  Mozilla/5.0 Firefox/128.0 ",
		"platform":  "Linux",
		"screen":    "",
		"plugins":   "pdf",
	}

	norm := meta.Normalize()
	if len(norm) != 2 {
		t.Fatalf("expected 2 recognized keys, got %v", norm)
	}
	if norm[DeviceKeyUserAgent] != "Mozilla/5.0 Firefox/128.0" {
		t.Fatalf("unexpected user agent %q", norm[DeviceKeyUserAgent])
	}
	if _, ok := norm["plugins"]; ok {
		t.Fatal("unrecognized keys must be dropped")
	}
}

func TestDeviceMetadataWithDefault(t *testing.T) {
	meta := DeviceMetadata{"userAgent": "client supplied"}
	if got := meta.WithDefault(DeviceKeyUserAgent, "header"); got[DeviceKeyUserAgent] != "client supplied" {
		t.Fatalf("client value must win, got %q", got[DeviceKeyUserAgent])
	}

	var empty DeviceMetadata
	if got := empty.WithDefault(DeviceKeyUserAgent, "header"); got[DeviceKeyUserAgent] != "header" {
		t.Fatalf("expected header fallback, got %q", got[DeviceKeyUserAgent])
	}
}

func TestDeviceMetadataPublicDropsUserAgent(t *testing.T) {
	meta := DeviceMetadata{
		"userAgent": "Mozilla/5.0 (Windows NT 10.0) AppleWebKit/537.36 Chrome/126.0 Safari/537.36 Edg/126.0",
		"platform":  "Windows",
		"timezone":  "Europe/Berlin",
	}

	public := meta.Public()
	if _, ok := public[DeviceKeyUserAgent]; ok {
		t.Fatal("raw user agent must not be public")
	}
	if public[DeviceKeyBrowser] != "Edge" {
		t.Fatalf("expected Edge, got %q", public[DeviceKeyBrowser])
	}
	if public.Summary() != "Edge on Windows" {
		t.Fatalf("unexpected summary %q", public.Summary())
	}
}

func TestDeviceMetadataSummary(t *testing.T) {
	cases := []struct {
		name string
		meta DeviceMetadata
		want string
	}{
		{"browser and platform", DeviceMetadata{"browser": "Firefox", "platform": "Linux"}, "Firefox on Linux"},
		{"from user agent", DeviceMetadata{"userAgent": "Mozilla/5.0 Safari/605.1"}, "Safari"},
		{"platform only", DeviceMetadata{"platform": "iOS"}, "iOS"},
		{"unknown agent", DeviceMetadata{"userAgent": "curl/8.4"}, "Other"},
		{"empty", nil, "Unknown device"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.meta.Summary(); got != tc.want {
				t.Fatalf("Summary() = %q, want %q", got, tc.want)
			}
		})
	}
}
