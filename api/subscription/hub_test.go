package subscription

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lunfardo314/nodexec/api"
	"github.com/lunfardo314/nodexec/global"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	handlers []func(ev api.Event)
}

func (s *fakeSource) OnEvent(fun func(ev api.Event)) {
	s.handlers = append(s.handlers, fun)
}

func (s *fakeSource) post(ev api.Event) {
	for _, h := range s.handlers {
		h(ev)
	}
}

func startHub(t *testing.T) (*Hub, *fakeSource, string) {
	src := &fakeSource{}
	table := api.NewTable("subscription")
	hub, err := Attach(table, src, global.NewDefault())
	require.NoError(t, err)
	require.EqualValues(t, 1, len(src.handlers))

	srv := httptest.NewServer(table.Mux())
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, src, "ws" + strings.TrimPrefix(srv.URL, "http") + api.PathSubscribe
}

func dial(t *testing.T, hub *Hub, url string, expectSubscribers int) *websocket.Conn {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.Eventually(t, func() bool {
		return hub.NumSubscribers() == expectSubscribers
	}, 5*time.Second, 10*time.Millisecond)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) api.Event {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	typ, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, typ)
	var ev api.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestHub(t *testing.T) {
	t.Run("backlog and live", func(t *testing.T) {
		hub, src, url := startHub(t)
		src.post(api.NewEvent(api.EventSeeded))
		src.post(api.NewEvent(api.EventSynchronized, "tip_height", 3))

		conn := dial(t, hub, url, 1)
		require.Equal(t, api.EventSeeded, readEvent(t, conn).Type)
		ev := readEvent(t, conn)
		require.Equal(t, api.EventSynchronized, ev.Type)
		require.EqualValues(t, 3, ev.Data["tip_height"])

		src.post(api.NewEvent(api.EventNewTip, "height", 4))
		require.Equal(t, api.EventNewTip, readEvent(t, conn).Type)
	})
	t.Run("topics", func(t *testing.T) {
		hub, src, url := startHub(t)
		conn := dial(t, hub, url+"?topics=new_tip,stopping", 1)

		src.post(api.NewEvent(api.EventPeerConnected, "peer", "p1"))
		src.post(api.NewEvent(api.EventNewTip, "height", 1))
		src.post(api.NewEvent(api.EventStopping))
		require.Equal(t, api.EventNewTip, readEvent(t, conn).Type)
		require.Equal(t, api.EventStopping, readEvent(t, conn).Type)
	})
	t.Run("close", func(t *testing.T) {
		hub, _, url := startHub(t)
		conn := dial(t, hub, url, 1)
		hub.Close()

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, _, err := conn.ReadMessage()
		var closeErr *websocket.CloseError
		require.True(t, errors.As(err, &closeErr))
		require.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
		require.Eventually(t, func() bool {
			return hub.NumSubscribers() == 0
		}, 5*time.Second, 10*time.Millisecond)

		// closed hub rejects new subscribers
		conn1, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		defer conn1.Close()
		require.NoError(t, conn1.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, _, err = conn1.ReadMessage()
		require.True(t, errors.As(err, &closeErr))
		require.Equal(t, websocket.CloseGoingAway, closeErr.Code)
	})
	t.Run("stopping is the last event", func(t *testing.T) {
		hub, src, url := startHub(t)
		conn := dial(t, hub, url, 1)
		src.post(api.NewEvent(api.EventNewTip, "height", 1))
		src.post(api.NewEvent(api.EventStopping))
		src.post(api.NewEvent(api.EventNewTip, "height", 2))

		require.Equal(t, api.EventNewTip, readEvent(t, conn).Type)
		require.Equal(t, api.EventStopping, readEvent(t, conn).Type)
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, _, err := conn.ReadMessage()
		var closeErr *websocket.CloseError
		require.True(t, errors.As(err, &closeErr))
		require.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
	})
	t.Run("client disconnect", func(t *testing.T) {
		hub, _, url := startHub(t)
		conn := dial(t, hub, url, 1)
		require.NoError(t, conn.Close())
		require.Eventually(t, func() bool {
			return hub.NumSubscribers() == 0
		}, 5*time.Second, 10*time.Millisecond)
	})
	t.Run("duplicate attach", func(t *testing.T) {
		table := api.NewTable("subscription")
		_, err := Attach(table, &fakeSource{}, global.NewDefault())
		require.NoError(t, err)
		_, err = Attach(table, &fakeSource{}, global.NewDefault())
		require.True(t, errors.Is(err, api.ErrDuplicatePath))
	})
}

func TestSlowSubscriber(t *testing.T) {
	hub := NewHub(global.NewDefault(), 10)
	sub := hub.subscribe(nil)
	for i := 0; i < maxSubscriberQueue+5; i++ {
		hub.Publish(api.NewEvent(api.EventNewTip, "height", i))
	}
	require.EqualValues(t, 5, sub.dropped)
	ev, ok := sub.pop()
	require.True(t, ok)
	require.EqualValues(t, 5, ev.Data["height"])
	require.EqualValues(t, 10, hub.backlog.Len())
}
