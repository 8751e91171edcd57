package dnsutil

import (
	"strconv"
	"strings"

	"github.com/miekg/dns"
)

// Normalize returns the lowercased name with one trailing dot removed.
// Cache keys and blocklist entries are both built from it.
func Normalize(name string) string {
	return strings.TrimSuffix(strings.ToLower(name), ".")
}

// TypeToString returns the mnemonic of qtype, or the RFC 3597 form for
// types the codec does not know.
func TypeToString(qtype uint16) string {
	if s, ok := dns.TypeToString[qtype]; ok {
		return s
	}

	return "TYPE" + strconv.Itoa(int(qtype))
}

// StringToType parses a query type mnemonic (case insensitive) or the
// RFC 3597 TYPEnnn form.
func StringToType(s string) (uint16, bool) {
	s = strings.ToUpper(s)

	if t, ok := dns.StringToType[s]; ok {
		return t, true
	}

	if n, ok := strings.CutPrefix(s, "TYPE"); ok {
		v, err := strconv.ParseUint(n, 10, 16)
		if err == nil {
			return uint16(v), true
		}
	}

	return 0, false
}

// SetRcode returns message specified with rcode.
func SetRcode(req *dns.Msg, rcode int) *dns.Msg {
	m := new(dns.Msg)
	m.SetRcode(req, rcode)
	m.RecursionAvailable = true
	m.RecursionDesired = req.RecursionDesired

	return m
}

// FormatQuestion returns the question in "name class type" form for logs.
func FormatQuestion(q dns.Question) string {
	return strings.ToLower(q.Name) + " " + dns.ClassToString[q.Qclass] + " " + TypeToString(q.Qtype)
}

// RecordData returns the presentation form of the rdata of rr, without
// the owner, ttl, class and type fields.
func RecordData(rr dns.RR) string {
	return strings.TrimSpace(strings.TrimPrefix(rr.String(), rr.Header().String()))
}

const (
	// DefaultMsgSize is the receive buffer size for udp exchanges.
	DefaultMsgSize = 4096
)
