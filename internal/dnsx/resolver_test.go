package dnsx

import (
	"context"
	"net"
	"testing"

	"github.com/foxcpp/go-mockdns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMXSortedAndNormalized(t *testing.T) {
	r := &mockdns.Resolver{
		Zones: map[string]mockdns.Zone{
			"example.org.": {
				MX: []net.MX{
					{Host: "MX2.Example.org.", Pref: 20},
					{Host: "mx1.example.org.", Pref: 10},
				},
			},
		},
	}

	rs := NewWithLookuper(r, zap.NewNop())
	hosts := rs.MX(context.Background(), "Example.ORG.")

	require.Equal(t, []string{"mx1.example.org", "mx2.example.org"}, hosts)
}

func TestMXCachedAcrossLookups(t *testing.T) {
	r := &mockdns.Resolver{
		Zones: map[string]mockdns.Zone{
			"example.org.": {
				MX: []net.MX{{Host: "mx1.example.org.", Pref: 10}},
			},
		},
	}

	rs := NewWithLookuper(r, zap.NewNop())
	require.Equal(t, []string{"mx1.example.org"}, rs.MX(context.Background(), "example.org"))

	// Point the zone elsewhere; the cached answer must survive.
	r.Zones["example.org."] = mockdns.Zone{
		MX: []net.MX{{Host: "mx9.example.org.", Pref: 10}},
	}
	assert.Equal(t, []string{"mx1.example.org"}, rs.MX(context.Background(), "example.org"))

	rs.Flush()
	assert.Equal(t, []string{"mx9.example.org"}, rs.MX(context.Background(), "example.org"))
}

func TestMXMissingDomain(t *testing.T) {
	rs := NewWithLookuper(&mockdns.Resolver{Zones: map[string]mockdns.Zone{}}, zap.NewNop())
	assert.Empty(t, rs.MX(context.Background(), "nodomain.invalid"))
}
