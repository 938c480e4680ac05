package failover

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToggle(t *testing.T) {
	c := NewController(true)
	require.True(t, c.IsPrimary())
	require.False(t, c.Toggle())
	require.False(t, c.IsPrimary())
	require.True(t, c.Toggle())
	c.Set(false)
	require.False(t, c.IsPrimary())
}

func TestToggleConcurrent(t *testing.T) {
	c := NewController(false)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Toggle()
		}()
	}
	wg.Wait()
	if c.IsPrimary() {
		t.Fatalf("even number of toggles should restore the initial role")
	}
}
