package metrics

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/lunfardo314/nodexec/global"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestServer(t *testing.T) {
	env := global.NewDefault()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nodexec_test_counter",
		Help: "test counter",
	})
	env.MetricsRegistry().MustRegister(counter)
	counter.Add(3)

	srv, err := Start(env, 0, nil)
	require.NoError(t, err)

	url := fmt.Sprintf("http://%s%s", srv.Addr().String(), Path)
	resp, err := http.Get(url)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	require.Contains(t, string(body), "nodexec_test_counter 3")
	require.Contains(t, string(body), "go_goroutines")

	env.Stop()
	require.Eventually(t, func() bool {
		_, err := http.Get(url)
		return err != nil
	}, 5*time.Second, 20*time.Millisecond)
}

func TestPortBusy(t *testing.T) {
	env := global.NewDefault()
	defer env.Stop()
	srv, err := Start(env, 0, nil)
	require.NoError(t, err)

	_, err = Start(env, srv.Addr().(*net.TCPAddr).Port, nil)
	require.Error(t, err)
}
