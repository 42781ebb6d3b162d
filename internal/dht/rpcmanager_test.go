package dht

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidebt/tide/internal/logger"
)

type recordingTraversal struct {
	replies       int
	shortTimeouts int
	failures      int
	lastFrom      *net.UDPAddr
}

func (r *recordingTraversal) Reply(o *Observer, resp *ResponseArgs, from *net.UDPAddr) {
	r.replies++
	r.lastFrom = from
}
func (r *recordingTraversal) ShortTimeout(o *Observer) { r.shortTimeouts++ }
func (r *recordingTraversal) Failed(o *Observer)       { r.failures++ }

type sentPacket struct {
	b    []byte
	addr *net.UDPAddr
}

func newTestRPC(t *testing.T) (*RpcManager, *[]sentPacket) {
	t.Helper()
	var sent []sentPacket
	send := func(b []byte, addr *net.UDPAddr) error {
		sent = append(sent, sentPacket{b: b, addr: addr})
		return nil
	}
	var id [20]byte
	copy(id[:], "test node id 1234567")
	return NewRpcManager(id, send, logger.New("test rpc")), &sent
}

func addr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: port}
}

func reply(o *Observer) *Message {
	return &Message{
		T: formatTransactionID(o.TransactionID),
		Y: "r",
		R: &ResponseArgs{ID: make([]byte, 20)},
	}
}

func TestTransactionIDsUnique(t *testing.T) {
	rpc, _ := newTestRPC(t)
	now := time.Now()
	seen := make(map[uint16]struct{})
	for i := 0; i < 100; i++ {
		o, err := rpc.Invoke(ObserverGetPeers, QueryArgs{}, addr(7000+i), NullTraversal, now)
		require.NoError(t, err)
		_, dup := seen[o.TransactionID]
		assert.False(t, dup, "transaction id reused while outstanding")
		seen[o.TransactionID] = struct{}{}
	}
	assert.Equal(t, 100, rpc.NumOutstanding())
}

func TestReplyMatching(t *testing.T) {
	rpc, _ := newTestRPC(t)
	tr := &recordingTraversal{}
	o, err := rpc.Invoke(ObserverGetPeers, QueryArgs{}, addr(7001), tr, time.Now())
	require.NoError(t, err)

	rpc.Incoming(reply(o), addr(7001))
	assert.Equal(t, 1, tr.replies)
	assert.True(t, o.Done())
	assert.Equal(t, 0, rpc.NumOutstanding())
}

func TestReplyFromWrongAddressDropped(t *testing.T) {
	rpc, _ := newTestRPC(t)
	tr := &recordingTraversal{}
	o, err := rpc.Invoke(ObserverGetPeers, QueryArgs{}, addr(7001), tr, time.Now())
	require.NoError(t, err)

	// Same transaction id, different source address.
	rpc.Incoming(reply(o), addr(7002))
	assert.Equal(t, 0, tr.replies)
	assert.False(t, o.Done())
	assert.Equal(t, 1, rpc.NumOutstanding())
}

func TestUnknownTransactionGetsErrorReply(t *testing.T) {
	rpc, sent := newTestRPC(t)
	rpc.Incoming(&Message{T: "\x12\x34", Y: "r", R: &ResponseArgs{}}, addr(7003))
	require.Len(t, *sent, 1)
	m, err := DecodeMessage((*sent)[0].b)
	require.NoError(t, err)
	assert.Equal(t, "e", m.Y)
	code, msg := m.ErrArgs()
	assert.Equal(t, int64(ErrCodeProtocol), code)
	assert.Equal(t, "invalid transaction id", msg)
}

func TestTimeoutEscalation(t *testing.T) {
	rpc, _ := newTestRPC(t)
	tr := &recordingTraversal{}
	start := time.Now()
	o, err := rpc.Invoke(ObserverGetPeers, QueryArgs{}, addr(7004), tr, start)
	require.NoError(t, err)

	// Before the short timeout nothing happens.
	rpc.Tick(start.Add(ShortTimeout - time.Second))
	assert.Equal(t, 0, tr.shortTimeouts)

	// Short timeout signals once and only once.
	rpc.Tick(start.Add(ShortTimeout))
	assert.Equal(t, 1, tr.shortTimeouts)
	assert.True(t, o.ShortTimedOut())
	assert.False(t, o.Done())
	rpc.Tick(start.Add(ShortTimeout + 5*time.Second))
	assert.Equal(t, 1, tr.shortTimeouts)

	// Hard timeout fails the observer; no retries are issued.
	rpc.Tick(start.Add(HardTimeout))
	assert.Equal(t, 1, tr.failures)
	assert.True(t, o.Done())
	assert.Equal(t, 0, rpc.NumOutstanding())

	// Terminal transitions are idempotent.
	rpc.Tick(start.Add(HardTimeout + time.Minute))
	assert.Equal(t, 1, tr.failures)
}

func TestLateReplyAfterShortTimeout(t *testing.T) {
	rpc, _ := newTestRPC(t)
	tr := &recordingTraversal{}
	start := time.Now()
	o, err := rpc.Invoke(ObserverGetPeers, QueryArgs{}, addr(7005), tr, start)
	require.NoError(t, err)

	rpc.Tick(start.Add(ShortTimeout))
	require.True(t, o.ShortTimedOut())

	// A reply between short and hard timeout still completes it.
	rpc.Incoming(reply(o), addr(7005))
	assert.Equal(t, 1, tr.replies)
	assert.True(t, o.Done())
	rpc.Tick(start.Add(HardTimeout))
	assert.Equal(t, 0, tr.failures)
}

func TestPortUnreachable(t *testing.T) {
	rpc, _ := newTestRPC(t)
	tr1 := &recordingTraversal{}
	tr2 := &recordingTraversal{}
	now := time.Now()
	o1, _ := rpc.Invoke(ObserverGetPeers, QueryArgs{}, addr(7006), tr1, now)
	o2, _ := rpc.Invoke(ObserverGetPeers, QueryArgs{}, addr(7006), tr2, now)

	// Only the first outstanding observer to the endpoint fails.
	rpc.PortUnreachable(addr(7006))
	assert.True(t, o1.Done())
	assert.False(t, o2.Done())
	assert.Equal(t, 1, tr1.failures)
	assert.Equal(t, 0, tr2.failures)
}

func TestAbortFailsAll(t *testing.T) {
	rpc, _ := newTestRPC(t)
	tr := &recordingTraversal{}
	now := time.Now()
	o, _ := rpc.Invoke(ObserverGetPeers, QueryArgs{}, addr(7007), tr, now)
	rpc.Abort()
	assert.True(t, o.Done())
	assert.True(t, o.Aborted())
	assert.Equal(t, 1, tr.failures)

	_, err := rpc.Invoke(ObserverPing, QueryArgs{}, addr(7008), tr, now)
	assert.Error(t, err)
}

func TestTransactionIDWrapAround(t *testing.T) {
	rpc, _ := newTestRPC(t)
	rpc.nextID = 0xffff
	now := time.Now()
	o1, _ := rpc.Invoke(ObserverPing, QueryArgs{}, addr(7009), NullTraversal, now)
	o2, _ := rpc.Invoke(ObserverPing, QueryArgs{}, addr(7010), NullTraversal, now)
	assert.Equal(t, uint16(0xffff), o1.TransactionID)
	assert.Equal(t, uint16(0), o2.TransactionID)
}
