package sdk

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDispatcherPreservesOrder(t *testing.T) {
	t.Parallel()

	d := newDispatcher(16)
	var mu sync.Mutex
	var got []int
	for i := 0; i < 10; i++ {
		i := i
		d.do(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	d.stop()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
}

func TestDispatcherStopIsIdempotent(t *testing.T) {
	t.Parallel()

	d := newDispatcher(1)
	d.stop()
	d.stop()

	// Enqueueing after stop is a silent no-op.
	d.do(func() { t.Fatal("callback ran after stop") })
}
