package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lunfardo314/nodexec/api"
	"github.com/lunfardo314/nodexec/global"
	"github.com/lunfardo314/nodexec/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNode struct {
	*global.Global
	chain []*store.Header
}

func newFakeNode(n int) *fakeNode {
	ret := &fakeNode{
		Global: global.NewDefault(),
		chain:  []*store.Header{store.GenesisHeader("testnet")},
	}
	for i := 0; i < n; i++ {
		ret.chain = append(ret.chain, store.NewHeader(ret.chain[len(ret.chain)-1], []byte{byte(i)}, time.Now()))
	}
	return ret
}

func (n *fakeNode) GetNodeInfo() *global.NodeInfo {
	return &global.NodeInfo{
		Network:   "testnet",
		Version:   global.Version,
		TipHeight: n.GetTip().Height,
		Seeded:    true,
	}
}

func (n *fakeNode) GetSyncInfo() *api.SyncInfo {
	return &api.SyncInfo{
		Synced:         true,
		TipHeight:      n.GetTip().Height,
		BestPeerHeight: n.GetTip().Height,
	}
}

func (n *fakeNode) GetPeersInfo() *api.PeersInfo {
	return &api.PeersInfo{
		HostID: "host",
		Peers:  []api.PeerInfo{{ID: "peer1", IsStatic: true}},
	}
}

func (n *fakeNode) GetTip() *store.Header {
	return n.chain[len(n.chain)-1]
}

func (n *fakeNode) GetHeader(height uint64) (*store.Header, bool) {
	if height >= uint64(len(n.chain)) {
		return nil, false
	}
	return n.chain[height], true
}

func get(t *testing.T, mux http.Handler, url string, resp any) {
	req := httptest.NewRequest(http.MethodGet, url, nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	res := w.Result()
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "application/json", res.Header.Get("Content-Type"))

	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, resp))
}

func TestQueryAPI(t *testing.T) {
	node := newFakeNode(5)
	table := api.NewTable("query")
	require.NoError(t, Attach(table, node))
	mux := table.Mux()

	t.Run("node info", func(t *testing.T) {
		var ni global.NodeInfo
		get(t, mux, api.PathGetNodeInfo, &ni)
		require.Equal(t, "testnet", ni.Network)
		require.EqualValues(t, 5, ni.TipHeight)
		// host is not started
		require.Empty(t, ni.ID)
	})
	t.Run("sync info", func(t *testing.T) {
		var si api.SyncInfo
		get(t, mux, api.PathGetSyncInfo, &si)
		require.True(t, si.Synced)
		require.EqualValues(t, 5, si.TipHeight)
	})
	t.Run("peers info", func(t *testing.T) {
		var pi api.PeersInfo
		get(t, mux, api.PathGetPeersInfo, &pi)
		require.Equal(t, "host", pi.HostID)
		require.EqualValues(t, 1, len(pi.Peers))
	})
	t.Run("tip", func(t *testing.T) {
		var h api.Header
		get(t, mux, api.PathGetTip, &h)
		require.Empty(t, h.Error.Error)
		hdr, err := h.Decode()
		require.NoError(t, err)
		require.Equal(t, node.GetTip().Hash(), hdr.Hash())
	})
	t.Run("header", func(t *testing.T) {
		var h api.Header
		get(t, mux, api.PathGetHeader+"?height=2", &h)
		require.Empty(t, h.Error.Error)
		require.EqualValues(t, 2, h.Height)
		require.Equal(t, node.chain[2].Hash().String(), h.Hash)

		h = api.Header{}
		get(t, mux, api.PathGetHeader+"?height=100", &h)
		require.Equal(t, api.ErrHeaderNotFound, h.Error.Error)

		h = api.Header{}
		get(t, mux, api.PathGetHeader+"?height=abc", &h)
		require.Contains(t, h.Error.Error, "wrong parameter 'height'")

		h = api.Header{}
		get(t, mux, api.PathGetHeader, &h)
		require.Contains(t, h.Error.Error, "wrong parameter 'height'")
	})
	t.Run("dashboard", func(t *testing.T) {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, api.PathDashboard, nil))
		res := w.Result()
		defer res.Body.Close()
		require.Equal(t, http.StatusOK, res.StatusCode)
		require.Contains(t, res.Header.Get("Content-Type"), "text/html")

		data, err := io.ReadAll(res.Body)
		require.NoError(t, err)
		require.Contains(t, string(data), "Node dashboard: testnet")
		require.Contains(t, string(data), api.PathGetSyncInfo)
	})
	t.Run("metrics", func(t *testing.T) {
		mfs, err := node.MetricsRegistry().Gather()
		require.NoError(t, err)
		found := false
		for _, mf := range mfs {
			if mf.GetName() == "nodexec_api_totalRequests" {
				found = true
				require.True(t, mf.GetMetric()[0].GetCounter().GetValue() >= 4)
			}
		}
		require.True(t, found)

		// second registration reuses the counter
		srv := &server{environment: node}
		require.NoError(t, srv.registerMetrics())
	})
}

func TestAttach(t *testing.T) {
	t.Run("duplicate", func(t *testing.T) {
		node := newFakeNode(0)
		table := api.NewTable("query")
		require.NoError(t, Attach(table, node))
		err := Attach(table, node)
		require.True(t, errors.Is(err, api.ErrDuplicatePath))
	})
	t.Run("sealed", func(t *testing.T) {
		table := api.NewTable("query")
		table.Seal()
		err := Attach(table, newFakeNode(0))
		require.True(t, errors.Is(err, api.ErrTableSealed))
	})
}
