package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lunfardo314/nodexec/store"
	"github.com/stretchr/testify/require"
)

func TestTable(t *testing.T) {
	t.Run("attach", func(t *testing.T) {
		tab := NewTable("query")
		require.NoError(t, tab.AttachFunc("/b", func(w http.ResponseWriter, _ *http.Request) {}))
		require.NoError(t, tab.AttachFunc("/a", func(w http.ResponseWriter, _ *http.Request) {}))
		require.EqualValues(t, []string{"/a", "/b"}, tab.Paths())

		err := tab.AttachFunc("/a", func(w http.ResponseWriter, _ *http.Request) {})
		require.True(t, errors.Is(err, ErrDuplicatePath))
		require.EqualValues(t, 2, tab.Len())
	})
	t.Run("sealed", func(t *testing.T) {
		tab := NewTable("query")
		require.NoError(t, tab.AttachFunc("/a", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}))
		mux := tab.Mux()
		require.True(t, tab.IsSealed())
		err := tab.AttachFunc("/b", func(w http.ResponseWriter, _ *http.Request) {})
		require.True(t, errors.Is(err, ErrTableSealed))

		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/a", nil))
		require.Equal(t, http.StatusTeapot, w.Code)
		w = httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/b", nil))
		require.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHeader(t *testing.T) {
	h := store.NewHeader(store.GenesisHeader("testnet"), []byte{1, 2, 3}, time.Now())
	jh := HeaderFromStore(h)
	back, err := jh.Decode()
	require.NoError(t, err)
	require.Equal(t, h.Hash(), back.Hash())

	jh.Data = "ff"
	_, err = jh.Decode()
	require.True(t, errors.Is(err, errWrongHash))
}

func TestEvent(t *testing.T) {
	ev := NewEvent(EventNewTip, "height", 5)
	require.Equal(t, EventNewTip, ev.Type)
	require.EqualValues(t, 5, ev.Data["height"])
	require.Contains(t, string(ev.Bytes()), `"type":"new_tip"`)
	require.Panics(t, func() {
		NewEvent(EventNewTip, "height")
	})
}
