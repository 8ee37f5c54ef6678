package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoopbackLink(t *testing.T, addr Addr) *UDPLink {
	t.Helper()
	l, err := NewUDPLink(UDPConfig{
		Addr:           addr,
		ListenIP:       "127.0.0.1",
		BeaconTargets:  []string{"127.0.0.1:9"},
		BeaconInterval: 20 * time.Millisecond,
		BeaconTTL:      time.Second,
		ScanWindow:     60 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestBeaconRoundTrip(t *testing.T) {
	b := beacon{Addr: addrA, Channel: 6, DataPort: 47800, Name: "ESPNOW:24:0a:c4:00:00:0a"}
	got, err := parseBeacon(b.marshal())
	require.NoError(t, err)
	assert.Equal(t, b, got)

	long := beacon{Name: string(make([]byte, 64))}
	got, err = parseBeacon(long.marshal())
	require.NoError(t, err)
	assert.Len(t, got.Name, maxBeaconName)

	_, err = parseBeacon([]byte("WPHB"))
	assert.ErrorIs(t, err, errBadBeacon)
	_, err = parseBeacon(append(b.marshal(), 0))
	assert.ErrorIs(t, err, errBadBeacon)
}

func TestBeaconTableExpiry(t *testing.T) {
	tbl := newBeaconTable(time.Second)
	now := time.Unix(1000, 0)
	src := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 47801}

	tbl.record(beacon{Addr: addrB, DataPort: 47800, Name: "b"}, src, now)

	ua, ok := tbl.lookup(addrB, now.Add(500*time.Millisecond))
	require.True(t, ok)
	assert.Equal(t, "10.0.0.2:47800", ua.String())

	from, ok := tbl.source(ua)
	assert.True(t, ok)
	assert.Equal(t, addrB, from)

	_, ok = tbl.lookup(addrB, now.Add(2*time.Second))
	assert.False(t, ok)
	assert.Empty(t, tbl.advertisements(now.Add(2*time.Second)))

	tbl.expire(now.Add(2 * time.Second))
	_, ok = tbl.source(ua)
	assert.False(t, ok)
}

func TestUDPConfigDefaults(t *testing.T) {
	cfg := UDPConfig{DataPort: 5000}
	require.NoError(t, cfg.applyDefaults())

	assert.False(t, cfg.Addr.IsZero())
	assert.Equal(t, byte(0x02), cfg.Addr[0]&0x03, "unicast, locally administered")
	assert.Equal(t, DefaultNamePrefix+":"+cfg.Addr.String(), cfg.Name)
	assert.Equal(t, 5001, cfg.BeaconPort)

	bad := UDPConfig{MTU: 4}
	assert.Error(t, bad.applyDefaults())
	bad = UDPConfig{Channel: 20}
	assert.Error(t, bad.applyDefaults())
}

func TestUDPLinkEndToEnd(t *testing.T) {
	a := newLoopbackLink(t, addrA)
	b := newLoopbackLink(t, addrB)
	require.NoError(t, a.AddBeaconTarget(b.BeaconAddr().String()))
	require.NoError(t, b.AddBeaconTarget(a.BeaconAddr().String()))

	ctx := context.Background()

	var ads []Advertisement
	require.Eventually(t, func() bool {
		var err error
		ads, err = a.Scan(ctx)
		return err == nil && len(ads) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, addrB.String(), ads[0].BSSID)
	assert.Equal(t, DefaultNamePrefix+":"+addrB.String(), ads[0].Name)

	require.NoError(t, a.RegisterPeer(ctx, PeerInfo{Addr: addrB, Channel: 1}))
	assert.Equal(t, ResultExists, ResultOf(a.RegisterPeer(ctx, PeerInfo{Addr: addrB, Channel: 1})))
	assert.True(t, a.PeerExists(addrB))

	// b must have heard a's beacon to attribute the datagram.
	require.Eventually(t, func() bool {
		_, err := b.Scan(ctx)
		b.mu.RLock()
		defer b.mu.RUnlock()
		return err == nil && len(b.heard.entries) == 1
	}, 2*time.Second, 10*time.Millisecond)

	received := make(chan []byte, 1)
	from := make(chan Addr, 1)
	b.OnReceive(func(src Addr, payload []byte) {
		received <- append([]byte(nil), payload...)
		from <- src
	})

	require.NoError(t, a.Send(ctx, addrB, []byte("hello")))

	select {
	case got := <-received:
		assert.Equal(t, []byte("hello"), got)
		assert.Equal(t, addrA, <-from)
	case <-time.After(2 * time.Second):
		t.Fatal("datagram not delivered")
	}
}

func TestUDPLinkSendClassification(t *testing.T) {
	a := newLoopbackLink(t, addrA)
	ctx := context.Background()

	assert.Equal(t, ResultNotFound, ResultOf(a.Send(ctx, addrB, []byte{1})))
	assert.Equal(t, ResultInvalidArgument, ResultOf(a.Send(ctx, addrB, make([]byte, a.MTU()+1))))

	require.NoError(t, a.RegisterPeer(ctx, PeerInfo{Addr: addrB, Channel: 1}))
	assert.Equal(t, ResultInternal, ResultOf(a.Send(ctx, addrB, []byte{1})), "no beacon heard")

	assert.Equal(t, ResultInvalidArgument, ResultOf(a.RegisterPeer(ctx, PeerInfo{Addr: addrC, Encrypt: true})))

	require.NoError(t, a.Close())
	assert.Equal(t, ResultNotInitialized, ResultOf(a.Send(ctx, addrB, []byte{1})))
	_, err := a.Scan(ctx)
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.NoError(t, a.Close(), "idempotent")
}

func TestUDPLinkTableFull(t *testing.T) {
	l, err := NewUDPLink(UDPConfig{
		Addr:          addrA,
		ListenIP:      "127.0.0.1",
		BeaconTargets: []string{"127.0.0.1:9"},
		MaxPeers:      1,
	})
	require.NoError(t, err)
	defer l.Close()

	ctx := context.Background()
	require.NoError(t, l.RegisterPeer(ctx, PeerInfo{Addr: addrB, Channel: 1}))
	err = l.RegisterPeer(ctx, PeerInfo{Addr: addrC, Channel: 1})
	assert.ErrorIs(t, err, ErrTableFull)
}
