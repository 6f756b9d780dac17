// Package domain holds the device context that tokens are bound to.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

// ErrInvalidDevice is returned by NewInfo when a field fails validation.
var ErrInvalidDevice = errors.New("invalid device info")

const (
	maxDeviceIDLength   = 255
	maxDeviceNameLength = 255
	maxUserAgentLength  = 1024
)

// Platform is the operating system family of a device.
type Platform string

const (
	PlatformUnknown Platform = "unknown"
	PlatformWindows Platform = "windows"
	PlatformMacOS   Platform = "macos"
	PlatformLinux   Platform = "linux"
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
)

// Browser is the client application family.
type Browser string

const (
	BrowserUnknown Browser = "unknown"
	BrowserChrome  Browser = "chrome"
	BrowserFirefox Browser = "firefox"
	BrowserSafari  Browser = "safari"
	BrowserEdge    Browser = "edge"
	BrowserOpera   Browser = "opera"
)

// Class is the form factor of a device. Exactly one class applies to every device.
type Class string

const (
	ClassMobile  Class = "mobile"
	ClassTablet  Class = "tablet"
	ClassDesktop Class = "desktop"
)

func (p Platform) valid() bool {
	switch p {
	case PlatformUnknown, PlatformWindows, PlatformMacOS, PlatformLinux, PlatformIOS, PlatformAndroid:
		return true
	}
	return false
}

func (b Browser) valid() bool {
	switch b {
	case BrowserUnknown, BrowserChrome, BrowserFirefox, BrowserSafari, BrowserEdge, BrowserOpera:
		return true
	}
	return false
}

func (c Class) valid() bool {
	return c == ClassMobile || c == ClassTablet || c == ClassDesktop
}

// Params are the inputs to NewInfo.
type Params struct {
	DeviceID       string
	DeviceName     string
	UserAgent      string
	IPAddress      string
	Platform       Platform
	Browser        Browser
	BrowserVersion string
	OSVersion      string
	Class          Class
}

// Info is an immutable snapshot of the device a request or token belongs to.
type Info struct {
	p Params
}

// NewInfo validates p. Empty Platform/Browser default to unknown; an empty Class is an error.
func NewInfo(p Params) (Info, error) {
	p.DeviceID = strings.TrimSpace(p.DeviceID)
	if p.DeviceID == "" {
		return Info{}, fmt.Errorf("%w: device id is required", ErrInvalidDevice)
	}
	if len(p.DeviceID) > maxDeviceIDLength {
		return Info{}, fmt.Errorf("%w: device id too long", ErrInvalidDevice)
	}
	if len(p.DeviceName) > maxDeviceNameLength {
		return Info{}, fmt.Errorf("%w: device name too long", ErrInvalidDevice)
	}
	if len(p.UserAgent) > maxUserAgentLength {
		return Info{}, fmt.Errorf("%w: user agent too long", ErrInvalidDevice)
	}
	p.IPAddress = strings.TrimSpace(p.IPAddress)
	addr, err := netip.ParseAddr(p.IPAddress)
	if err != nil {
		return Info{}, fmt.Errorf("%w: ip address %q", ErrInvalidDevice, p.IPAddress)
	}
	p.IPAddress = addr.Unmap().String()
	if p.Platform == "" {
		p.Platform = PlatformUnknown
	}
	if p.Browser == "" {
		p.Browser = BrowserUnknown
	}
	if !p.Platform.valid() {
		return Info{}, fmt.Errorf("%w: platform %q", ErrInvalidDevice, p.Platform)
	}
	if !p.Browser.valid() {
		return Info{}, fmt.Errorf("%w: browser %q", ErrInvalidDevice, p.Browser)
	}
	if !p.Class.valid() {
		return Info{}, fmt.Errorf("%w: device class %q", ErrInvalidDevice, p.Class)
	}
	return Info{p: p}, nil
}

// FromRequest builds an Info for deviceID from raw request headers, detecting platform,
// browser, and class from the User-Agent.
func FromRequest(deviceID, deviceName, userAgent, ipAddress string) (Info, error) {
	d := DetectFromUserAgent(userAgent)
	return NewInfo(Params{
		DeviceID:       deviceID,
		DeviceName:     deviceName,
		UserAgent:      userAgent,
		IPAddress:      ipAddress,
		Platform:       d.Platform,
		Browser:        d.Browser,
		BrowserVersion: d.BrowserVersion,
		OSVersion:      d.OSVersion,
		Class:          d.Class,
	})
}

func (i Info) DeviceID() string { return i.p.DeviceID }
func (i Info) DeviceName() string { return i.p.DeviceName }
func (i Info) UserAgent() string { return i.p.UserAgent }
func (i Info) IPAddress() string { return i.p.IPAddress }
func (i Info) Platform() Platform { return i.p.Platform }
func (i Info) Browser() Browser { return i.p.Browser }
func (i Info) BrowserVersion() string { return i.p.BrowserVersion }
func (i Info) OSVersion() string { return i.p.OSVersion }
func (i Info) Class() Class { return i.p.Class }
func (i Info) IsMobile() bool { return i.p.Class == ClassMobile }
func (i Info) IsTablet() bool { return i.p.Class == ClassTablet }
func (i Info) IsDesktop() bool { return i.p.Class == ClassDesktop }

// IsZero reports whether i was never constructed.
func (i Info) IsZero() bool {
	return i.p.DeviceID == ""
}

// Fingerprint is a deterministic hex SHA-256 over platform, browser, and class.
// The IP address is excluded so roaming clients keep the same fingerprint.
func (i Info) Fingerprint() string {
	sum := sha256.Sum256([]byte(string(i.p.Platform) + "|" + string(i.p.Browser) + "|" + string(i.p.Class)))
	return hex.EncodeToString(sum[:])
}

// Equal reports whether two snapshots describe the same device context.
func (i Info) Equal(o Info) bool {
	return i.p == o.p
}

type snapshot struct {
	DeviceID       string `json:"device_id"`
	DeviceName     string `json:"device_name,omitempty"`
	UserAgent      string `json:"user_agent,omitempty"`
	IPAddress      string `json:"ip_address"`
	Platform       string `json:"platform"`
	Browser        string `json:"browser"`
	BrowserVersion string `json:"browser_version,omitempty"`
	OSVersion      string `json:"os_version,omitempty"`
	Class          string `json:"device_class"`
}

// MarshalJSON encodes the snapshot persisted with refresh token records.
func (i Info) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshot{
		DeviceID:       i.p.DeviceID,
		DeviceName:     i.p.DeviceName,
		UserAgent:      i.p.UserAgent,
		IPAddress:      i.p.IPAddress,
		Platform:       string(i.p.Platform),
		Browser:        string(i.p.Browser),
		BrowserVersion: i.p.BrowserVersion,
		OSVersion:      i.p.OSVersion,
		Class:          string(i.p.Class),
	})
}

// UnmarshalJSON decodes and re-validates a persisted snapshot.
func (i *Info) UnmarshalJSON(data []byte) error {
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	info, err := NewInfo(Params{
		DeviceID:       s.DeviceID,
		DeviceName:     s.DeviceName,
		UserAgent:      s.UserAgent,
		IPAddress:      s.IPAddress,
		Platform:       Platform(s.Platform),
		Browser:        Browser(s.Browser),
		BrowserVersion: s.BrowserVersion,
		OSVersion:      s.OSVersion,
		Class:          Class(s.Class),
	})
	if err != nil {
		return err
	}
	*i = info
	return nil
}
