package node

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lunfardo314/nodexec/api"
	"github.com/lunfardo314/nodexec/api/client"
	"github.com/lunfardo314/nodexec/api/server"
	"github.com/lunfardo314/nodexec/api/subscription"
	"github.com/lunfardo314/nodexec/config"
	"github.com/lunfardo314/nodexec/global"
	"github.com/lunfardo314/nodexec/store"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

const (
	testNetwork = "test-network"
	waitTimeout = 10 * time.Second
)

func initStore(t *testing.T, network string, numHeaders int) string {
	dir := t.TempDir() + "/node"
	res, err := store.NewDirectoryInitializer(network).Initialize(dir)
	require.NoError(t, err)
	require.Equal(t, store.Created, res)
	if numHeaders == 0 {
		return dir
	}
	chain, err := store.OpenChainStore(store.ChainDir(dir))
	require.NoError(t, err)
	tip := chain.Tip()
	for i := 0; i < numHeaders; i++ {
		h := store.NewHeader(tip, []byte(fmt.Sprintf("header #%d", i+1)), time.Now())
		_, err = chain.Append(h)
		require.NoError(t, err)
		tip = h
	}
	require.NoError(t, chain.Close())
	return dir
}

func makeConfig(t *testing.T, dir string, set map[string]any) *config.Configuration {
	v := viper.New()
	config.SetDefaults(v)
	v.Set("store.dir", dir)
	v.Set("network.name", testNetwork)
	v.Set("peering.port", 0)
	v.Set("peering.seed_timeout", 5*time.Second)
	v.Set("api.query.port", 0)
	v.Set("api.subscription.port", 0)
	v.Set("sync.timeout", 10*time.Second)
	v.Set("sync.check_period", 50*time.Millisecond)
	v.Set("node.shutdown_timeout", 5*time.Second)
	v.Set("node.memlog_period", 0)
	for k, val := range set {
		v.Set(k, val)
	}
	cfg, err := config.Load(v, config.CommandRun)
	require.NoError(t, err)
	return cfg
}

// newNode creates node with both APIs attached
func newNode(t *testing.T, cfg *config.Configuration) (*ServerNode, *subscription.Hub) {
	n := New(global.NewDefault(), cfg)
	require.NoError(t, server.Attach(n.QueryTable(), n))
	hub, err := subscription.Attach(n.SubscriptionTable(), n, n)
	require.NoError(t, err)
	t.Cleanup(n.Close)
	return n, hub
}

func resultChan() (chan error, ResultHandler) {
	ch := make(chan error, 1)
	return ch, func(err error) {
		ch <- err
	}
}

func waitResult(t *testing.T, ch chan error) error {
	select {
	case err := <-ch:
		return err
	case <-time.After(waitTimeout):
		require.Fail(t, "result not received in time")
	}
	return nil
}

func startAndRun(t *testing.T, n *ServerNode) {
	seeded, seededHandler := resultChan()
	require.NoError(t, n.Start(seededHandler))
	require.NoError(t, waitResult(t, seeded))

	synced, syncedHandler := resultChan()
	n.Run(syncedHandler)
	require.NoError(t, waitResult(t, synced))
}

func stop(t *testing.T, n *ServerNode) {
	stopped, stoppedHandler := resultChan()
	n.Stop(stoppedHandler)
	require.NoError(t, waitResult(t, stopped))
}

func apiURL(n *ServerNode, name string) string {
	return fmt.Sprintf("127.0.0.1:%d", n.APIAddr(name).(*net.TCPAddr).Port)
}

func localPeerAddr(t *testing.T, n *ServerNode) string {
	for _, a := range n.peers.MultiAddrs() {
		if strings.HasPrefix(a, "/ip4/127.0.0.1/") {
			return a
		}
	}
	require.Fail(t, "no localhost address")
	return ""
}

type eventLog struct {
	mutex  sync.Mutex
	events []api.Event
}

func (l *eventLog) add(ev api.Event) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) types() []string {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	ret := make([]string, 0, len(l.events))
	for _, ev := range l.events {
		ret = append(ret, ev.Type)
	}
	return ret
}

func (l *eventLog) has(typ string) bool {
	for _, t := range l.types() {
		if t == typ {
			return true
		}
	}
	return false
}

func TestSingleNode(t *testing.T) {
	dir := initStore(t, testNetwork, 3)
	n, hub := newNode(t, makeConfig(t, dir, nil))
	evLog := &eventLog{}
	n.OnEvent(evLog.add)

	startAndRun(t, n)
	require.True(t, n.chain.Tip().Height == 3)

	t.Run("tables are sealed", func(t *testing.T) {
		err := n.QueryTable().AttachFunc("/extra", nil)
		require.True(t, errors.Is(err, api.ErrTableSealed))
	})
	t.Run("query API", func(t *testing.T) {
		clnt := client.New("http://" + apiURL(n, "query"))
		info, err := clnt.GetNodeInfo()
		require.NoError(t, err)
		require.Equal(t, testNetwork, info.Network)
		require.Equal(t, n.peers.SelfID().String(), info.ID)
		require.True(t, info.Seeded)
		require.True(t, info.Synced)
		require.EqualValues(t, 3, info.TipHeight)

		tip, err := clnt.GetTip()
		require.NoError(t, err)
		require.Equal(t, n.chain.Tip().Hash(), tip.Hash())

		genesis, err := clnt.GetHeader(0)
		require.NoError(t, err)
		require.Equal(t, store.GenesisHeader(testNetwork).Hash(), genesis.Hash())

		_, err = clnt.GetHeader(100)
		require.Error(t, err)

		syncInfo, err := clnt.GetSyncInfo()
		require.NoError(t, err)
		require.True(t, syncInfo.Synced)
		require.EqualValues(t, 3, syncInfo.TipHeight)
	})

	url := "ws://" + apiURL(n, "subscription") + api.PathSubscribe + "?topics=" + api.EventStopping
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool {
		return hub.NumSubscribers() == 1
	}, waitTimeout, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return evLog.has(api.EventSeeded) && evLog.has(api.EventSynchronized)
	}, waitTimeout, 10*time.Millisecond)
	require.Equal(t, []string{api.EventSeeded, api.EventSynchronized}, evLog.types())

	stop(t, n)
	require.True(t, n.chain.IsClosed())
	require.Equal(t, api.EventStopping, evLog.types()[2])

	// subscriber receives 'stopping' and then the connection is closed
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitTimeout)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(data), api.EventStopping)
	_, _, err = conn.ReadMessage()
	require.Error(t, err)

	// repeated stop reports the same result, close does nothing
	stop(t, n)
	n.Close()
}

func TestSyncFromSeed(t *testing.T) {
	dirA := initStore(t, testNetwork, 25)
	nodeA, _ := newNode(t, makeConfig(t, dirA, map[string]any{
		"api.query.enable":        false,
		"api.subscription.enable": false,
	}))
	startAndRun(t, nodeA)

	dirB := initStore(t, testNetwork, 0)
	nodeB, _ := newNode(t, makeConfig(t, dirB, map[string]any{
		"peering.seeds":           []string{localPeerAddr(t, nodeA)},
		"api.subscription.enable": false,
	}))
	evLog := &eventLog{}
	nodeB.OnEvent(evLog.add)
	startAndRun(t, nodeB)

	require.EqualValues(t, 25, nodeB.chain.Tip().Height)
	require.Equal(t, nodeA.chain.Tip().Hash(), nodeB.chain.Tip().Hash())

	require.Eventually(t, func() bool {
		return evLog.has(api.EventSynchronized)
	}, waitTimeout, 10*time.Millisecond)
	require.True(t, evLog.has(api.EventPeerConnected))
	require.True(t, evLog.has(api.EventSeeded))
	require.True(t, evLog.has(api.EventNewTip))

	peersInfo, err := client.New("http://" + apiURL(nodeB, "query")).GetPeersInfo()
	require.NoError(t, err)
	require.EqualValues(t, 1, len(peersInfo.Peers))
	require.Equal(t, nodeA.peers.SelfID().String(), peersInfo.Peers[0].ID)
	require.True(t, peersInfo.Peers[0].IsStatic)

	stop(t, nodeB)
	stop(t, nodeA)
}

func TestStartFailure(t *testing.T) {
	t.Run("not initialized", func(t *testing.T) {
		n, _ := newNode(t, makeConfig(t, t.TempDir()+"/missing", nil))
		err := n.Start(func(err error) {
			require.Fail(t, "must not be called")
		})
		require.Error(t, err)
		require.Nil(t, n.APIAddr("query"))
		n.Close()
		n.Close()
	})
	t.Run("other network", func(t *testing.T) {
		dir := initStore(t, "other-network", 0)
		n, _ := newNode(t, makeConfig(t, dir, nil))
		err := n.Start(func(err error) {})
		require.Error(t, err)
		require.Contains(t, err.Error(), testNetwork)
	})
	t.Run("port busy", func(t *testing.T) {
		ln, err := net.Listen("tcp", ":0")
		require.NoError(t, err)
		defer ln.Close()

		dir := initStore(t, testNetwork, 0)
		n, _ := newNode(t, makeConfig(t, dir, map[string]any{
			"api.subscription.port": ln.Addr().(*net.TCPAddr).Port,
		}))
		err = n.Start(func(err error) {})
		require.Error(t, err)
		// everything opened before the failure is released
		require.True(t, n.chain.IsClosed())
		require.Nil(t, n.APIAddr("query"))

		// the store can be opened again
		chain, err := store.OpenChainStore(store.ChainDir(dir))
		require.NoError(t, err)
		require.NoError(t, chain.Close())
	})
}

func TestFault(t *testing.T) {
	n := New(global.NewDefault(), makeConfig(t, t.TempDir(), nil))
	defer n.Close()

	first, firstHandler := resultChan()
	n.SubscribeFault(firstHandler)

	errFault := errors.New("test fault")
	n.reportFault(errFault)
	n.reportFault(errors.New("second fault"))
	require.True(t, errors.Is(waitResult(t, first), errFault))

	late, lateHandler := resultChan()
	n.SubscribeFault(lateHandler)
	require.True(t, errors.Is(waitResult(t, late), errFault))

	select {
	case err := <-first:
		require.Fail(t, "fault reported twice", "%v", err)
	case <-time.After(100 * time.Millisecond):
	}
}
