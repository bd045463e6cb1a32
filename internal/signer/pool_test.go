package signer

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const otherKey = "0x0101010101010101010101010101010101010101010101010101010101010101"

func TestPool(t *testing.T) {
	p, err := NewPool([]string{testKey, otherKey}, []string{"", "addr-2"})
	require.NoError(t, err)
	assert.Equal(t, 2, p.Len())
	assert.Equal(t, []string{"0x2c7536E3605D9C16a7a3D7b1898e529396a65c23", "addr-2"}, p.Addresses())

	assert.Equal(t, "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23", p.Next().Address())
	assert.Equal(t, "addr-2", p.Next().Address())
	assert.Equal(t, "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23", p.Next().Address())

	h, err := p.Headers([]byte("{}"), "http://upstream")
	require.NoError(t, err)
	assert.Equal(t, "addr-2", h[HeaderAddress])
}

func TestPool_RoundRobinIsEven(t *testing.T) {
	p, err := NewPool([]string{testKey, otherKey}, nil)
	require.NoError(t, err)

	var (
		mu     sync.Mutex
		counts = map[string]int{}
		wg     sync.WaitGroup
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			addr := p.Next().Address()
			mu.Lock()
			counts[addr]++
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Len(t, counts, 2)
	for _, n := range counts {
		assert.Equal(t, 50, n)
	}
}

func TestNewPool_Errors(t *testing.T) {
	_, err := NewPool(nil, nil)
	assert.Error(t, err)

	_, err = NewPool([]string{testKey}, []string{"a", "b"})
	assert.Error(t, err)

	_, err = NewPool([]string{testKey, "zz"}, nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "key 2"))
}
