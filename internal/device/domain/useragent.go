package domain

import (
	"strings"

	"github.com/mssola/useragent"
)

// Detection is what DetectFromUserAgent could infer from a User-Agent header.
type Detection struct {
	Platform       Platform
	Browser        Browser
	BrowserVersion string
	OSVersion      string
	Class          Class
}

var browserNames = map[string]Browser{
	"Chrome":  BrowserChrome,
	"Firefox": BrowserFirefox,
	"Safari":  BrowserSafari,
	"Edge":    BrowserEdge,
	"Opera":   BrowserOpera,
}

// DetectFromUserAgent classifies a User-Agent header. Unknown agents map to
// unknown platform/browser on the desktop class.
func DetectFromUserAgent(ua string) Detection {
	d := Detection{Platform: PlatformUnknown, Browser: BrowserUnknown, Class: ClassDesktop}
	if strings.TrimSpace(ua) == "" {
		return d
	}
	parsed := useragent.New(ua)
	platform, osName := parsed.Platform(), parsed.OS()

	// iOS agents also advertise "like Mac OS X", so they are matched first.
	switch {
	case platform == "iPad":
		d.Platform, d.Class = PlatformIOS, ClassTablet
	case platform == "iPhone" || platform == "iPod":
		d.Platform, d.Class = PlatformIOS, ClassMobile
	case strings.HasPrefix(osName, "Android"):
		d.Platform, d.Class = PlatformAndroid, ClassTablet
		// Android tablets drop the Mobile token.
		if strings.Contains(ua, "Mobile") {
			d.Class = ClassMobile
		}
	case strings.HasPrefix(osName, "Windows") || platform == "Windows":
		d.Platform = PlatformWindows
	case platform == "Macintosh" || strings.Contains(osName, "Mac OS X"):
		d.Platform = PlatformMacOS
	case platform == "X11" || platform == "Linux" || strings.Contains(osName, "Linux"):
		d.Platform = PlatformLinux
	default:
		if parsed.Mobile() {
			d.Class = ClassMobile
		}
	}
	if d.Platform != PlatformUnknown && d.Platform != PlatformLinux {
		d.OSVersion = parsed.OSInfo().Version
	}

	name, version := parsed.Browser()
	if b, ok := browserNames[name]; ok {
		d.Browser, d.BrowserVersion = b, version
	}
	return d
}
