// Package cache provides the byte-bounded answer cache of sdnsfwd.
package cache

import (
	"errors"
	"strings"

	"github.com/semihalev/sdnsfwd/dnsutil"
)

// Key identifies an answer set by normalized domain name and query type.
type Key struct {
	Name  string
	Qtype uint16
}

// NewKey returns a key for name and qtype. The name is lowercased and a
// single trailing dot is removed, so "Example.com." and "example.com"
// address the same entry.
func NewKey(name string, qtype uint16) Key {
	return Key{Name: dnsutil.Normalize(name), Qtype: qtype}
}

// String returns the addressable form "<domain>|<TYPE>".
func (k Key) String() string {
	return k.Name + "|" + dnsutil.TypeToString(k.Qtype)
}

// ParseKey parses the "<domain>|<TYPE>" form produced by Key.String.
func ParseKey(s string) (Key, error) {
	i := strings.LastIndexByte(s, '|')
	if i < 0 {
		return Key{}, errors.New("cache key has no type separator")
	}

	qtype, ok := dnsutil.StringToType(s[i+1:])
	if !ok {
		return Key{}, errors.New("cache key has unknown type " + s[i+1:])
	}

	return NewKey(s[:i], qtype), nil
}
