package discovery

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueriesOurService(t *testing.T) {
	q := new(dns.Msg)
	q.SetQuestion(serviceType, dns.TypePTR)
	assert.True(t, queriesOurService(q))

	other := new(dns.Msg)
	other.SetQuestion("_http._tcp.local.", dns.TypePTR)
	assert.False(t, queriesOurService(other))
}

func TestBuildResponseContainsExpectedRecords(t *testing.T) {
	a := &Advertiser{instance: "My-Desktop", port: 9876}
	resp := a.buildResponse(42)

	require.Len(t, resp.Answer, 3)

	var sawPTR, sawSRV, sawTXT bool
	for _, rr := range resp.Answer {
		switch rec := rr.(type) {
		case *dns.PTR:
			sawPTR = true
			assert.Equal(t, serviceType, rec.Hdr.Name)
		case *dns.SRV:
			sawSRV = true
			assert.EqualValues(t, 9876, rec.Port)
		case *dns.TXT:
			sawTXT = true
		}
	}
	assert.True(t, sawPTR)
	assert.True(t, sawSRV)
	assert.True(t, sawTXT)
}
