package tracker

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompactRoundTrip(t *testing.T) {
	addrs := []*net.TCPAddr{
		{IP: net.IPv4(1, 2, 3, 4), Port: 6881},
		{IP: net.IPv4(200, 100, 50, 25), Port: 51413},
	}
	b := EncodePeersCompact(addrs)
	require.Len(t, b, 12)
	decoded, err := DecodePeersCompact(b)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.True(t, decoded[0].IP.Equal(addrs[0].IP))
	assert.Equal(t, addrs[1].Port, decoded[1].Port)
}

func TestCompactInvalidLength(t *testing.T) {
	_, err := DecodePeersCompact(make([]byte, 7))
	assert.Error(t, err)
	_, err = DecodePeersCompact6(make([]byte, 17))
	assert.Error(t, err)
}

func TestCompact6(t *testing.T) {
	ip := net.ParseIP("2001:db8::1")
	b := make([]byte, 18)
	copy(b, ip.To16())
	b[16] = 0x1a
	b[17] = 0xe1
	addrs, err := DecodePeersCompact6(b)
	require.NoError(t, err)
	require.Len(t, addrs, 1)
	assert.True(t, addrs[0].IP.Equal(ip))
	assert.Equal(t, 0x1ae1, addrs[0].Port)
}

func TestTierPromotesWorkingTracker(t *testing.T) {
	bad := &fakeTracker{err: ErrDecode}
	good := &fakeTracker{}
	tier := &Tier{Trackers: []Tracker{bad, good}}

	_, err := tier.Announce(testCtx(), AnnounceRequest{})
	require.NoError(t, err)
	assert.Equal(t, good, tier.Trackers[0])
	assert.Equal(t, 0, tier.Failures())
}
