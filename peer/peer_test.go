package peer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/wifiphone/transport"
)

type mockTimeProvider struct {
	currentTime time.Time
}

func (m *mockTimeProvider) Now() time.Time                  { return m.currentTime }
func (m *mockTimeProvider) Since(t time.Time) time.Duration { return m.currentTime.Sub(t) }

// fakeLink is a Transport whose scan results and registration outcome are
// set by the test.
type fakeLink struct {
	mu        sync.Mutex
	self      Address
	ads       []transport.Advertisement
	scanErr   error
	regResult transport.Result
	table     map[Address]transport.PeerInfo
	regCalls  int
}

func newFakeLink() *fakeLink {
	return &fakeLink{self: Address{0xaa}, table: make(map[Address]transport.PeerInfo)}
}

func (f *fakeLink) Scan(context.Context) ([]transport.Advertisement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ads, f.scanErr
}

func (f *fakeLink) Send(context.Context, transport.Addr, []byte) error { return nil }

func (f *fakeLink) RegisterPeer(_ context.Context, info transport.PeerInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regCalls++
	if f.regResult != transport.ResultOK {
		return transport.NewError("register", f.regResult, info.Addr, nil)
	}
	if _, ok := f.table[info.Addr]; ok {
		return transport.NewError("register", transport.ResultExists, info.Addr, nil)
	}
	f.table[info.Addr] = info
	return nil
}

func (f *fakeLink) PeerExists(addr transport.Addr) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.table[addr]
	return ok
}

func (f *fakeLink) OnReceive(transport.ReceiveHandler) {}
func (f *fakeLink) MTU() int                           { return 250 }
func (f *fakeLink) LocalAddress() transport.Addr       { return f.self }
func (f *fakeLink) Close() error                       { return nil }

func ad(name string, last byte) transport.Advertisement {
	return transport.Advertisement{
		Name:  name,
		BSSID: Address{0x24, 0x0a, 0xc4, 0, 0, last}.String(),
	}
}

func TestFilterMatchesPrefixAtStart(t *testing.T) {
	ads := []transport.Advertisement{
		ad("ESPNOW:1", 1),
		ad("MyESPNOW", 2),
		ad("espnow", 3),
		ad("ESPNOW", 4),
		{Name: "ESPNOW-bad", BSSID: "not-a-mac"},
	}
	now := time.Unix(100, 0)

	peers := Filter(ads, DefaultConfig(), Address{}, now)
	require.Len(t, peers, 2)
	assert.Equal(t, byte(1), peers[0].Address[5])
	assert.Equal(t, byte(4), peers[1].Address[5])
	for _, p := range peers {
		assert.Equal(t, uint8(DefaultChannel), p.Channel)
		assert.False(t, p.Encrypt)
		assert.False(t, p.Registered)
		assert.Equal(t, now, p.LastSeen)
	}
}

// TestFilterCountIsBounded verifies |peers| == min(M, max) for M matches.
func TestFilterCountIsBounded(t *testing.T) {
	for _, m := range []int{0, 1, 5, 20, 21, 40} {
		for _, limit := range []int{1, 3, 20} {
			t.Run(fmt.Sprintf("m=%d/max=%d", m, limit), func(t *testing.T) {
				var ads []transport.Advertisement
				for i := 0; i < m; i++ {
					ads = append(ads, ad("ESPNOW", byte(i+1)))
					ads = append(ads, ad("other", byte(i+100)))
				}
				cfg := Config{Prefix: DefaultPrefix, MaxPeers: limit}
				assert.Len(t, Filter(ads, cfg, Address{}, time.Time{}), min(m, limit))
			})
		}
	}
}

func TestFilterDeduplicatesAndSkipsSelf(t *testing.T) {
	self := Address{0x24, 0x0a, 0xc4, 0, 0, 9}
	ads := []transport.Advertisement{
		ad("ESPNOW", 1),
		ad("ESPNOW", 1),
		ad("ESPNOW", 9),
	}
	peers := Filter(ads, DefaultConfig(), self, time.Time{})
	require.Len(t, peers, 1)
	assert.Equal(t, byte(1), peers[0].Address[5])
}

func TestDiscoverReplacesTable(t *testing.T) {
	link := newFakeLink()
	tp := &mockTimeProvider{currentTime: time.Unix(1000, 0)}
	reg := NewRegistryWithTimeProvider(link, DefaultConfig(), tp)

	link.ads = []transport.Advertisement{ad("ESPNOW", 1), ad("ESPNOW", 2)}
	peers, err := reg.Discover(context.Background())
	require.NoError(t, err)
	assert.Len(t, peers, 2)
	assert.Equal(t, 2, reg.Len())

	link.ads = nil
	peers, err = reg.Discover(context.Background())
	require.NoError(t, err, "no matches is not an error")
	assert.Empty(t, peers)
	assert.Equal(t, 0, reg.Len())
}

func TestDiscoverScanFailureKeepsTable(t *testing.T) {
	link := newFakeLink()
	reg := NewRegistry(link, DefaultConfig())

	link.ads = []transport.Advertisement{ad("ESPNOW", 1)}
	_, err := reg.Discover(context.Background())
	require.NoError(t, err)

	link.scanErr = transport.NewError("scan", transport.ResultNotInitialized, transport.Addr{}, nil)
	_, err = reg.Discover(context.Background())
	assert.ErrorIs(t, err, transport.ErrNotInitialized)
	assert.Equal(t, 1, reg.Len())
}

// TestEnsureRegisteredIsIdempotent verifies OK then Exists with a single
// transport entry.
func TestEnsureRegisteredIsIdempotent(t *testing.T) {
	link := newFakeLink()
	reg := NewRegistry(link, DefaultConfig())
	p := Peer{Address: Address{1, 2, 3, 4, 5, 6}, Channel: 1}

	result, err := reg.EnsureRegistered(context.Background(), &p)
	require.NoError(t, err)
	assert.Equal(t, transport.ResultOK, result)
	assert.True(t, p.Registered)

	result, err = reg.EnsureRegistered(context.Background(), &p)
	require.NoError(t, err)
	assert.Equal(t, transport.ResultExists, result)

	assert.Len(t, link.table, 1)
	assert.Equal(t, 1, link.regCalls)
}

func TestEnsureRegisteredFailures(t *testing.T) {
	results := []transport.Result{
		transport.ResultNotInitialized,
		transport.ResultInvalidArgument,
		transport.ResultTableFull,
		transport.ResultNoMemory,
		transport.ResultUnknown,
	}
	for _, want := range results {
		t.Run(want.String(), func(t *testing.T) {
			link := newFakeLink()
			link.regResult = want
			reg := NewRegistry(link, DefaultConfig())
			p := Peer{Address: Address{1}, Channel: 1}

			got, err := reg.EnsureRegistered(context.Background(), &p)
			assert.Equal(t, want, got)
			require.Error(t, err)
			assert.ErrorIs(t, err, want.Sentinel())
			assert.False(t, p.Registered)

			var te *transport.Error
			assert.True(t, errors.As(err, &te))
		})
	}
}

func TestEnsureAllReportsNewAndFailed(t *testing.T) {
	link := newFakeLink()
	reg := NewRegistry(link, DefaultConfig())
	link.ads = []transport.Advertisement{ad("ESPNOW", 1), ad("ESPNOW", 2)}
	_, err := reg.Discover(context.Background())
	require.NoError(t, err)

	outcomes := reg.EnsureAll(context.Background())
	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		assert.Equal(t, transport.ResultOK, o.Result)
		assert.NoError(t, o.Err)
		assert.True(t, o.Peer.Registered)
	}

	assert.Empty(t, reg.EnsureAll(context.Background()), "steady state reports nothing")

	// Rediscovery keeps the registered flag for surviving peers.
	_, err = reg.Discover(context.Background())
	require.NoError(t, err)
	for _, p := range reg.Peers() {
		assert.True(t, p.Registered)
	}
	assert.Equal(t, 2, link.regCalls)

	reg.Clear()
	assert.Equal(t, 0, reg.Len())
	assert.Empty(t, reg.Addresses())
}
