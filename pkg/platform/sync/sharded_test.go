package sync

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShardedMutex_LockUnlock(t *testing.T) {
	m := NewShardedMutex(0)
	assert.Equal(t, defaultShards, m.Shards())

	m.Lock("visitor-1")
	m.Unlock("visitor-1")

	m.Lock("")
	m.Unlock("")
}

func TestShardedMutex_SameKeySerializes(t *testing.T) {
	m := NewShardedMutex(8)
	counter := 0
	var wg sync.WaitGroup

	for n := 0; n < 100; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Do("same-visitor", func() {
				counter++
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
}

func TestShardedMutex_DifferentKeysProceed(t *testing.T) {
	m := NewShardedMutex(16)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Do(fmt.Sprintf("visitor-%d", i), func() {})
		}()
	}
	wg.Wait()
}

func TestShardedMutex_ShardDistribution(t *testing.T) {
	m := NewShardedMutex(32)

	shards := make(map[int]bool)
	for i := 0; i < 16; i++ {
		shards[m.shardFor(fmt.Sprintf("%08d-1111-1111-1111-111111111111", i))] = true
	}

	assert.GreaterOrEqual(t, len(shards), 4, "expected visitor IDs to spread across shards")
}

func TestShardFor_StableAndInRange(t *testing.T) {
	m := NewShardedMutex(5)
	assert.Equal(t, 0, m.shardFor(""))
	for _, key := range []string{"a", "b", "11111111-1111-1111-1111-111111111111"} {
		shard := m.shardFor(key)
		assert.Equal(t, shard, m.shardFor(key))
		assert.Less(t, shard, 5)
		assert.GreaterOrEqual(t, shard, 0)
	}
}
