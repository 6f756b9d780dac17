package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

const chromeMacUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func TestNewInfo_Valid(t *testing.T) {
	info, err := NewInfo(Params{
		DeviceID:  "dev-1",
		IPAddress: "10.0.0.1",
		Platform:  PlatformLinux,
		Browser:   BrowserFirefox,
		Class:     ClassDesktop,
	})
	if err != nil {
		t.Fatalf("NewInfo: %v", err)
	}
	if info.DeviceID() != "dev-1" || info.IPAddress() != "10.0.0.1" {
		t.Errorf("got device=%q ip=%q", info.DeviceID(), info.IPAddress())
	}
	if !info.IsDesktop() || info.IsMobile() || info.IsTablet() {
		t.Error("exactly the desktop class should be set")
	}
}

func TestNewInfo_Invalid(t *testing.T) {
	testCases := []struct {
		name string
		p    Params
	}{
		{"missing device id", Params{IPAddress: "10.0.0.1", Class: ClassDesktop}},
		{"bad ip", Params{DeviceID: "d", IPAddress: "not-an-ip", Class: ClassDesktop}},
		{"missing class", Params{DeviceID: "d", IPAddress: "10.0.0.1"}},
		{"unknown platform", Params{DeviceID: "d", IPAddress: "10.0.0.1", Platform: "beos", Class: ClassDesktop}},
		{"unknown browser", Params{DeviceID: "d", IPAddress: "10.0.0.1", Browser: "mosaic", Class: ClassDesktop}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewInfo(tc.p)
			if !errors.Is(err, ErrInvalidDevice) {
				t.Errorf("NewInfo: want ErrInvalidDevice, got %v", err)
			}
		})
	}
}

func TestFingerprint_IgnoresIP(t *testing.T) {
	a, err := FromRequest("dev-1", "", chromeMacUA, "10.0.0.1")
	if err != nil {
		t.Fatalf("FromRequest: %v", err)
	}
	b, err := FromRequest("dev-1", "", chromeMacUA, "192.168.1.20")
	if err != nil {
		t.Fatalf("FromRequest: %v", err)
	}
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("fingerprint should not depend on the IP address")
	}
	if len(a.Fingerprint()) != 64 {
		t.Errorf("fingerprint length = %d, want 64", len(a.Fingerprint()))
	}
	c, err := FromRequest("dev-1", "", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1", "10.0.0.1")
	if err != nil {
		t.Fatalf("FromRequest: %v", err)
	}
	if a.Fingerprint() == c.Fingerprint() {
		t.Error("different platform/browser/class should change the fingerprint")
	}
}

func TestDetectFromUserAgent(t *testing.T) {
	testCases := []struct {
		name     string
		ua       string
		platform Platform
		browser  Browser
		class    Class
	}{
		{"chrome mac", chromeMacUA, PlatformMacOS, BrowserChrome, ClassDesktop},
		{"edge windows", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.2210.91", PlatformWindows, BrowserEdge, ClassDesktop},
		{"firefox linux", "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0", PlatformLinux, BrowserFirefox, ClassDesktop},
		{"safari iphone", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1", PlatformIOS, BrowserSafari, ClassMobile},
		{"ipad", "Mozilla/5.0 (iPad; CPU OS 16_6 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.6 Mobile/15E148 Safari/604.1", PlatformIOS, BrowserSafari, ClassTablet},
		{"android phone", "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36", PlatformAndroid, BrowserChrome, ClassMobile},
		{"android tablet", "Mozilla/5.0 (Linux; Android 13; SM-X710) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36", PlatformAndroid, BrowserChrome, ClassTablet},
		{"empty", "", PlatformUnknown, BrowserUnknown, ClassDesktop},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := DetectFromUserAgent(tc.ua)
			if d.Platform != tc.platform || d.Browser != tc.browser || d.Class != tc.class {
				t.Errorf("got (%s, %s, %s), want (%s, %s, %s)", d.Platform, d.Browser, d.Class, tc.platform, tc.browser, tc.class)
			}
		})
	}
}

func TestDetectFromUserAgent_Versions(t *testing.T) {
	d := DetectFromUserAgent("Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1")
	if d.OSVersion != "17.1" {
		t.Errorf("OSVersion = %q, want %q", d.OSVersion, "17.1")
	}
	if d.BrowserVersion != "17.1" {
		t.Errorf("BrowserVersion = %q, want %q", d.BrowserVersion, "17.1")
	}
	if d := DetectFromUserAgent("curl/8.4.0"); d.Platform != PlatformUnknown || d.Browser != BrowserUnknown {
		t.Errorf("curl = (%s, %s), want unknown", d.Platform, d.Browser)
	}
}

func TestInfo_JSONSnapshot(t *testing.T) {
	info, err := FromRequest("dev-9", "laptop", chromeMacUA, "::ffff:10.1.2.3")
	if err != nil {
		t.Fatalf("FromRequest: %v", err)
	}
	if info.IPAddress() != "10.1.2.3" {
		t.Errorf("IPAddress = %q, want unmapped IPv4", info.IPAddress())
	}
	data, err := json.Marshal(info)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded Info
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !decoded.Equal(info) {
		t.Errorf("decoded snapshot differs: %+v vs %+v", decoded, info)
	}
	if err := json.Unmarshal([]byte(`{"device_id":"","ip_address":"1.1.1.1","device_class":"desktop"}`), &decoded); err == nil {
		t.Error("Unmarshal of invalid snapshot should fail")
	}
}
