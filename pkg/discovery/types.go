package discovery

import (
	"errors"
	"time"
)

// Service constants.
const (
	ServiceType = "_doorctl._tcp"
	Domain      = "local"

	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63

	// InstancePrefix is prepended to the device name for default instance names.
	InstancePrefix = "doorctl-"

	// DefaultTTL for advertised records.
	DefaultTTL = 120 * time.Second
)

// TXT record keys.
const (
	TXTKeyDevice  = "dev"
	TXTKeyItem    = "item"
	TXTKeyVersion = "ver"
)

// Discovery errors.
var (
	ErrMissingRequired     = errors.New("discovery: missing required TXT field")
	ErrInvalidVersion      = errors.New("discovery: invalid version")
	ErrInstanceNameTooLong = errors.New("discovery: instance name exceeds 63 bytes")
	ErrInvalidPort         = errors.New("discovery: port must be set")
)

// Info describes an advertised controller.
type Info struct {
	// Instance is the DNS-SD instance name. Empty derives it from Device.
	Instance string

	Device  string
	Item    string
	Version int
	Port    uint16
}

// InstanceName returns the instance name advertised for i.
func (i Info) InstanceName() string {
	if i.Instance != "" {
		return i.Instance
	}
	return InstancePrefix + i.Device
}

// Service is a controller found while browsing.
type Service struct {
	InstanceName string
	Host         string
	Port         uint16
	Addresses    []string

	Device  string
	Item    string
	Version int
}

// AdvertiserConfig configures an Advertiser.
type AdvertiserConfig struct {
	// Interface restricts advertising to one interface. Empty means all.
	Interface string

	// TTL of the advertised records. Zero uses the library default.
	TTL time.Duration
}

// BrowserConfig configures a Browser.
type BrowserConfig struct {
	// Interface restricts browsing to one interface. Empty means all.
	Interface string
}
