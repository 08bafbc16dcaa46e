// Package discovery finds BLE gateways on the local network via DNS-SD
// (mDNS) and advertises them.
//
// A gateway registers the service type _nukible._tcp. Its TXT record
// describes how to reach it:
//
//	path=/ws     websocket path
//	tls=1        gateway speaks wss
//	auth=1       gateway requires HTTP Basic auth
//	lock=<addr>  BLE address of the lock it serves, if fixed
//	name=<name>  human-readable gateway name
package discovery

import (
	"fmt"
	"strings"
)

// DNS-SD service type strings.
const (
	// ServiceGateway is the DNS-SD service type for BLE gateways.
	ServiceGateway = "_nukible._tcp"

	// DefaultDomain is the default mDNS domain.
	DefaultDomain = "local."

	// DefaultPath is the websocket path assumed when the TXT record has none.
	DefaultPath = "/"
)

// TXT record keys.
const (
	TXTKeyPath = "path"
	TXTKeyTLS  = "tls"
	TXTKeyAuth = "auth"
	TXTKeyLock = "lock"
	TXTKeyName = "name"
)

// maxTXTEntry is the DNS limit on one TXT string.
const maxTXTEntry = 255

// GatewayTXT is the TXT record of a gateway.
type GatewayTXT struct {
	Path         string
	TLS          bool
	AuthRequired bool
	LockAddress  string
	Name         string
}

// Validate checks the record for values that cannot be encoded.
func (t GatewayTXT) Validate() error {
	if t.Path != "" && !strings.HasPrefix(t.Path, "/") {
		return fmt.Errorf("%w: path %q must start with /", ErrInvalidTXTRecord, t.Path)
	}
	for key, v := range map[string]string{TXTKeyPath: t.Path, TXTKeyLock: t.LockAddress, TXTKeyName: t.Name} {
		if len(key)+1+len(v) > maxTXTEntry {
			return fmt.Errorf("%w: %s too long", ErrInvalidTXTRecord, key)
		}
	}
	return nil
}

// Encode returns the TXT strings in key=value form. Empty fields are
// omitted.
func (t GatewayTXT) Encode() []string {
	var out []string
	if t.Path != "" {
		out = append(out, TXTKeyPath+"="+t.Path)
	}
	if t.TLS {
		out = append(out, TXTKeyTLS+"=1")
	}
	if t.AuthRequired {
		out = append(out, TXTKeyAuth+"=1")
	}
	if t.LockAddress != "" {
		out = append(out, TXTKeyLock+"="+t.LockAddress)
	}
	if t.Name != "" {
		out = append(out, TXTKeyName+"="+t.Name)
	}
	return out
}

// ParseTXT splits TXT strings into a key/value map. Keys are case
// insensitive; entries without '=' are boolean attributes with an empty
// value.
func ParseTXT(records []string) map[string]string {
	m := make(map[string]string, len(records))
	for _, r := range records {
		if r == "" {
			continue
		}
		key, value, _ := strings.Cut(r, "=")
		key = strings.ToLower(key)
		if _, dup := m[key]; dup {
			// The first occurrence wins (RFC 6763 section 6.4).
			continue
		}
		m[key] = value
	}
	return m
}

// DecodeGatewayTXT builds a GatewayTXT from TXT strings. Unknown keys are
// ignored.
func DecodeGatewayTXT(records []string) GatewayTXT {
	m := ParseTXT(records)
	return GatewayTXT{
		Path:         m[TXTKeyPath],
		TLS:          m[TXTKeyTLS] == "1",
		AuthRequired: m[TXTKeyAuth] == "1",
		LockAddress:  m[TXTKeyLock],
		Name:         m[TXTKeyName],
	}
}
