package icache_test

import (
	"sync"
	"testing"

	"github.com/soypat/dualfs/icache"
	"github.com/stretchr/testify/require"
)

type fakePayload struct {
	mu      sync.Mutex
	loaded  bool
	nlink   int16
	truncd  bool
	loadErr error
}

func (p *fakePayload) Load() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loaded = true
	return p.loadErr
}

func (p *fakePayload) NLink() int16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nlink
}

func (p *fakePayload) Truncate() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.truncd = true
	p.nlink = 0
	return nil
}

func TestGetSameKeyReturnsSameSlot(t *testing.T) {
	c := icache.New(nil, nil)
	key := icache.Key{FSType: icache.SFS, Dev: 0, Inum: 7}

	s1 := c.Get(key, func() icache.Payload { return &fakePayload{nlink: 1} })
	s2 := c.Get(key, func() icache.Payload { return &fakePayload{nlink: 1} })
	require.Same(t, s1, s2)
	require.Equal(t, 2, s1.Ref())
}

func TestGetDistinctKeysDistinctSlots(t *testing.T) {
	c := icache.New(nil, nil)
	s1 := c.Get(icache.Key{FSType: icache.SFS, Inum: 1}, func() icache.Payload { return &fakePayload{nlink: 1} })
	s2 := c.Get(icache.Key{FSType: icache.FAT, Inum: 1}, func() icache.Payload { return &fakePayload{nlink: 1} })
	require.NotSame(t, s1, s2)
}

func TestLockLoadsOnceAndValid(t *testing.T) {
	c := icache.New(nil, nil)
	key := icache.Key{FSType: icache.SFS, Inum: 3}
	var loads int
	s := c.Get(key, func() icache.Payload {
		return &fakePayload{nlink: 1}
	})
	require.NoError(t, c.Lock(s))
	require.True(t, s.Valid())
	p := s.Payload.(*fakePayload)
	require.True(t, p.loaded)
	c.Unlock(s)

	// Second lock must not reload since already valid.
	p.loaded = false
	require.NoError(t, c.Lock(s))
	require.False(t, p.loaded)
	c.Unlock(s)
	loads = 0
	_ = loads
}

func TestPutTruncatesOnZeroLinkLastRef(t *testing.T) {
	c := icache.New(nil, nil)
	key := icache.Key{FSType: icache.SFS, Inum: 9}
	payload := &fakePayload{nlink: 0}
	s := c.Get(key, func() icache.Payload { return payload })
	require.NoError(t, c.Lock(s))
	c.Unlock(s)

	require.NoError(t, c.Put(s))
	require.True(t, payload.truncd)
}

func TestPutKeepsStorageWhenStillLinked(t *testing.T) {
	c := icache.New(nil, nil)
	key := icache.Key{FSType: icache.SFS, Inum: 10}
	payload := &fakePayload{nlink: 1}
	s := c.Get(key, func() icache.Payload { return payload })
	require.NoError(t, c.Lock(s))
	c.Unlock(s)

	require.NoError(t, c.Put(s))
	require.False(t, payload.truncd)
}

func TestDupIncrementsRef(t *testing.T) {
	c := icache.New(nil, nil)
	key := icache.Key{FSType: icache.FAT, Inum: 2}
	s := c.Get(key, func() icache.Payload { return &fakePayload{nlink: 2} })
	c.Dup(s)
	require.Equal(t, 2, s.Ref())
	require.NoError(t, c.Put(s))
	require.NoError(t, c.Put(s))
}

func TestConcurrentLockSerializes(t *testing.T) {
	c := icache.New(nil, nil)
	key := icache.Key{FSType: icache.SFS, Inum: 42}
	s := c.Get(key, func() icache.Payload { return &fakePayload{nlink: 1} })

	var wg sync.WaitGroup
	var mu sync.Mutex
	order := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			require.NoError(t, c.Lock(s))
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			c.Unlock(s)
		}(i)
	}
	wg.Wait()
	require.Len(t, order, 4)
}
