package peering

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/lunfardo314/nodexec/config"
	"github.com/lunfardo314/nodexec/global"
	"github.com/lunfardo314/nodexec/store"
	"github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/require"
)

type chainForTesting struct {
	mutex sync.RWMutex
	chain []*store.Header
}

func newChain(networkName string, n int) *chainForTesting {
	ret := &chainForTesting{chain: []*store.Header{store.GenesisHeader(networkName)}}
	for i := 0; i < n; i++ {
		ret.chain = append(ret.chain, store.NewHeader(ret.chain[len(ret.chain)-1], []byte{byte(i)}, time.Now()))
	}
	return ret
}

func (c *chainForTesting) Tip() *store.Header {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.chain[len(c.chain)-1]
}

func (c *chainForTesting) GenesisHash() store.Hash {
	return c.chain[0].Hash()
}

func (c *chainForTesting) HeadersFrom(from uint64, maxHeaders int) []*store.Header {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	ret := make([]*store.Header, 0)
	for h := from; h < uint64(len(c.chain)) && len(ret) < maxHeaders; h++ {
		ret = append(ret, c.chain[h])
	}
	return ret
}

type peeringEnvForTesting struct {
	*global.Global
}

func newEnvironment(t *testing.T) *peeringEnvForTesting {
	ret := &peeringEnvForTesting{global.NewDefault()}
	t.Cleanup(ret.Stop)
	return ret
}

func newKey(t *testing.T) ed25519.PrivateKey {
	_, pk, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return pk
}

func makePeers(t *testing.T, chain ChainReader, seeds ...string) *Peers {
	cfg, err := MakeConfig(&config.PeeringConfig{
		Port:        0,
		Seeds:       seeds,
		SeedTimeout: 2 * time.Second,
		AllowLocal:  true,
	}, "testnet", newKey(t))
	require.NoError(t, err)
	ps, err := New(newEnvironment(t), chain, cfg)
	require.NoError(t, err)
	t.Cleanup(ps.Stop)
	return ps
}

func localAddr(t *testing.T, ps *Peers) string {
	for _, a := range ps.MultiAddrs() {
		if strings.HasPrefix(a, "/ip4/127.0.0.1/") {
			return a
		}
	}
	require.Fail(t, "no localhost address")
	return ""
}

func TestFrames(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, []byte("abc")))
	require.NoError(t, writeFrame(&buf, nil))
	data, err := readFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), data)
	data, err = readFrame(&buf)
	require.NoError(t, err)
	require.EqualValues(t, 0, len(data))
	_, err = readFrame(&buf)
	require.Error(t, err)

	require.Error(t, writeFrame(&buf, make([]byte, MaxPayloadSize+1)))
}

func TestCodec(t *testing.T) {
	chain := newChain("testnet", 10)
	t.Run("tip", func(t *testing.T) {
		tip, err := decodeTip(encodeTip(chain.GenesisHash(), chain.Tip()))
		require.NoError(t, err)
		require.EqualValues(t, 10, tip.Height)
		require.Equal(t, chain.Tip().Hash(), tip.Hash)
		require.Equal(t, chain.GenesisHash(), tip.Genesis)
		_, err = decodeTip([]byte{1, 2})
		require.Error(t, err)
	})
	t.Run("headers", func(t *testing.T) {
		from, maxHeaders, err := decodeHeadersRequest(encodeHeadersRequest(3, 10000))
		require.NoError(t, err)
		require.EqualValues(t, 3, from)
		require.EqualValues(t, MaxHeadersPerRequest, maxHeaders)

		hdrs, err := decodeHeaders(encodeHeaders(chain.HeadersFrom(3, 5)))
		require.NoError(t, err)
		require.EqualValues(t, 5, len(hdrs))
		require.Equal(t, chain.chain[7].Hash(), hdrs[4].Hash())

		hdrs, err = decodeHeaders(nil)
		require.NoError(t, err)
		require.EqualValues(t, 0, len(hdrs))

		_, err = decodeHeaders([]byte{0, 100, 1})
		require.Error(t, err)
	})
}

func TestFilter(t *testing.T) {
	addrs := make([]multiaddr.Multiaddr, 0)
	for _, s := range []string{"/ip4/127.0.0.1/tcp/4000", "/ip4/192.168.1.5/tcp/4000", "/ip4/8.8.8.8/tcp/4000"} {
		a, err := multiaddr.NewMultiaddr(s)
		require.NoError(t, err)
		addrs = append(addrs, a)
	}
	public := FilterAddresses(false)(addrs)
	require.EqualValues(t, 1, len(public))
	require.Equal(t, "/ip4/8.8.8.8/tcp/4000", public[0].String())

	// input is left intact
	require.Equal(t, "/ip4/127.0.0.1/tcp/4000", addrs[0].String())
	require.Equal(t, "/ip4/192.168.1.5/tcp/4000", addrs[1].String())

	withLocal := FilterAddresses(true)(addrs)
	require.EqualValues(t, 2, len(withLocal))
	require.Equal(t, "/ip4/192.168.1.5/tcp/4000", withLocal[0].String())
	require.Equal(t, "/ip4/8.8.8.8/tcp/4000", withLocal[1].String())
}

func TestShortPeerIDString(t *testing.T) {
	short := peer.ID("p1")
	require.Equal(t, short.String(), ShortPeerIDString(short))
	privateKey, err := crypto.UnmarshalEd25519PrivateKey(newKey(t))
	require.NoError(t, err)
	id, err := peer.IDFromPrivateKey(privateKey)
	require.NoError(t, err)
	s := id.String()
	require.Equal(t, ".."+s[len(s)-8:], ShortPeerIDString(id))
}

func TestConfig(t *testing.T) {
	_, err := MakeConfig(&config.PeeringConfig{Seeds: []string{"/ip4/127.0.0.1/tcp/4000"}}, "testnet", newKey(t))
	require.Error(t, err)

	cfg, err := MakeConfig(&config.PeeringConfig{}, "testnet", newKey(t))
	require.NoError(t, err)
	require.Equal(t, defaultSeedTimeout, cfg.SeedTimeout)
	require.False(t, cfg.isAutopeeringEnabled())
}

func TestSeedAndPull(t *testing.T) {
	chainA := newChain("testnet", 20)
	psA := makePeers(t, chainA)
	psA.Run()
	require.NoError(t, psA.Seed(context.Background()))

	psB := makePeers(t, newChain("testnet", 0), localAddr(t, psA))
	var mutex sync.Mutex
	connectedEvents := 0
	psB.OnPeerStatus(func(id peer.ID, connected bool) {
		mutex.Lock()
		defer mutex.Unlock()
		if connected && id == psA.SelfID() {
			connectedEvents++
		}
	})
	psB.Run()
	require.NoError(t, psB.Seed(context.Background()))
	require.EqualValues(t, []peer.ID{psA.SelfID()}, psB.ConnectedPeers())
	require.Eventually(t, func() bool {
		mutex.Lock()
		defer mutex.Unlock()
		return connectedEvents == 1
	}, 5*time.Second, 10*time.Millisecond)

	// A does not take incoming dynamic peers
	require.EqualValues(t, 0, len(psA.ConnectedPeers()))

	tip, err := psB.QueryTip(context.Background(), psA.SelfID())
	require.NoError(t, err)
	require.EqualValues(t, 20, tip.Height)
	require.Equal(t, chainA.GenesisHash(), tip.Genesis)

	hdrs, err := psB.PullHeaders(context.Background(), psA.SelfID(), 1, 100)
	require.NoError(t, err)
	require.EqualValues(t, 20, len(hdrs))
	require.Equal(t, chainA.Tip().Hash(), hdrs[19].Hash())

	hdrs, err = psB.PullHeaders(context.Background(), psA.SelfID(), 21, 100)
	require.NoError(t, err)
	require.EqualValues(t, 0, len(hdrs))

	info := psB.GetPeersInfo()
	require.Equal(t, psB.SelfID().String(), info.HostID)
	require.EqualValues(t, 1, len(info.Peers))
	require.True(t, info.Peers[0].IsStatic)
	require.EqualValues(t, 20, info.Peers[0].TipHeight)

	all, connected := psB.NumPeers()
	require.EqualValues(t, 1, all)
	require.EqualValues(t, 1, connected)
}

func TestSeedingFailed(t *testing.T) {
	// the peer is not running
	unreachable := makePeers(t, newChain("testnet", 0))
	addr := localAddr(t, unreachable)
	unreachable.Stop()

	ps := makePeers(t, newChain("testnet", 0), addr)
	err := ps.Seed(context.Background())
	require.True(t, errors.Is(err, ErrSeedingFailed))
	require.EqualValues(t, 0, len(ps.ConnectedPeers()))
}
