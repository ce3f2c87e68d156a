package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueue(t *testing.T) {
	t.Run("order", func(t *testing.T) {
		var mutex sync.Mutex
		res := make([]int, 0)
		q := New(func(e int) {
			mutex.Lock()
			res = append(res, e)
			mutex.Unlock()
		})
		for i := 0; i < 1000; i++ {
			q.Push(i)
		}
		q.Close(true)
		<-q.Done()
		require.EqualValues(t, 1000, len(res))
		for i := range res {
			require.EqualValues(t, i, res[i])
		}
		q.Push(1)
		require.EqualValues(t, 0, q.Len())
	})
	t.Run("close without processing", func(t *testing.T) {
		block := make(chan struct{})
		q := New(func(e int) {
			<-block
		})
		for i := 0; i < 10; i++ {
			q.Push(i)
		}
		q.Close(false)
		close(block)
		select {
		case <-q.Done():
		case <-time.After(5 * time.Second):
			require.Fail(t, "consumer did not stop")
		}
		require.True(t, q.Len() > 0)
	})
}
