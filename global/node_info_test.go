package global

import (
	"crypto/rand"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/lunfardo314/nodexec/util"
	"github.com/stretchr/testify/require"
)

func randomPeerID() peer.ID {
	privateKey, _, err := crypto.GenerateEd25519Key(rand.Reader)
	util.AssertNoError(err)

	ret, err := peer.IDFromPrivateKey(privateKey)
	util.AssertNoError(err)
	return ret
}

func TestNodeInfo(t *testing.T) {
	ni := &NodeInfo{
		Network:   "testnet",
		ID:        randomPeerID().String(),
		Version:   Version,
		NumPeers:  5,
		TipHeight: 1_000_000,
		Seeded:    true,
	}
	back, err := NodeInfoFromBytes(ni.Bytes())
	require.NoError(t, err)
	require.EqualValues(t, ni, back)

	ln := ni.Lines("  ").String()
	t.Logf("\n%s", ln)
	require.Contains(t, ln, "1_000_000")
	require.Contains(t, ln, ni.ID)

	t.Run("without host ID", func(t *testing.T) {
		ni := &NodeInfo{Network: "testnet", Version: Version}
		back, err := NodeInfoFromBytes(ni.Bytes())
		require.NoError(t, err)
		require.EqualValues(t, ni, back)
	})
}

func TestWorkProcesses(t *testing.T) {
	t.Run("stop in time", func(t *testing.T) {
		glb := NewDefault()
		counter := 0
		glb.RepeatInBackground("counter", time.Millisecond, func() bool {
			counter++
			return true
		})
		time.Sleep(20 * time.Millisecond)
		glb.Stop()
		require.NoError(t, glb.WaitAllWorkProcessesStop(time.Second))
		require.True(t, counter > 0)
	})
	t.Run("timeout", func(t *testing.T) {
		glb := NewDefault()
		glb.MarkWorkProcessStarted("stuck")
		glb.Stop()
		err := glb.WaitAllWorkProcessesStop(10 * time.Millisecond)
		util.RequireErrorWith(t, err, "stuck")
	})
	t.Run("double start", func(t *testing.T) {
		glb := NewDefault()
		glb.MarkWorkProcessStarted("wp")
		require.Panics(t, func() {
			glb.MarkWorkProcessStarted("wp")
		})
	})
}

func TestTrace(t *testing.T) {
	glb := NewDefault()
	glb.StartTracingTags("a, b", "c")
	require.True(t, glb.enabledTrace.Load())
	require.Len(t, glb.traceTags, 3)
	glb.Sub("[sub]").Tracef("b", "traced %d", 1)
}
