package dnsutil

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		expected string
	}{
		{"example.com.", "example.com"},
		{"Example.COM", "example.com"},
		{"example.com..", "example.com."},
		{".", ""},
		{"", ""},
	}

	for _, test := range tests {
		assert.Equal(t, test.expected, Normalize(test.name), test.name)
	}
}

func TestTypeStrings(t *testing.T) {
	assert.Equal(t, "A", TypeToString(dns.TypeA))
	assert.Equal(t, "AAAA", TypeToString(dns.TypeAAAA))
	assert.Equal(t, "TYPE65280", TypeToString(65280))

	qtype, ok := StringToType("mx")
	assert.True(t, ok)
	assert.Equal(t, dns.TypeMX, qtype)

	qtype, ok = StringToType("TYPE65280")
	assert.True(t, ok)
	assert.Equal(t, uint16(65280), qtype)

	_, ok = StringToType("NOPE")
	assert.False(t, ok)

	_, ok = StringToType("TYPE99999")
	assert.False(t, ok)
}

func TestSetRcode(t *testing.T) {
	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)
	req.Id = 4242

	m := SetRcode(req, dns.RcodeNameError)
	assert.Equal(t, uint16(4242), m.Id)
	assert.True(t, m.Response)
	assert.Equal(t, dns.RcodeNameError, m.Rcode)
	assert.Empty(t, m.Answer)
}

func TestRecordData(t *testing.T) {
	rr, err := dns.NewRR("example.com. 60 IN MX 10 mail.example.com.")
	require.NoError(t, err)
	assert.Equal(t, "10 mail.example.com.", RecordData(rr))

	rr, err = dns.NewRR("example.com. 60 IN A 192.0.2.1")
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.1", RecordData(rr))

	assert.Equal(t, "example.com. IN A", FormatQuestion(dns.Question{Name: "Example.com.", Qtype: dns.TypeA, Qclass: dns.ClassINET}))
}
