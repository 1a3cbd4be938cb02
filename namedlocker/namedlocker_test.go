package namedlocker

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNamedLockerSerializesSameName(t *testing.T) {
	nl := NewNamedLocker()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = nl.WithLock("queue-1", func() error {
				v := counter
				v++
				counter = v
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
	assert.Equal(t, 0, nl.Len())
}

func TestNamedLockerIndependentNames(t *testing.T) {
	nl := NewNamedLocker()
	nl.Lock("a")
	done := make(chan struct{})
	go func() {
		nl.Lock("b")
		nl.Unlock("b")
		close(done)
	}()
	<-done
	assert.Equal(t, 1, nl.Len())
	nl.Unlock("a")
	assert.Equal(t, 0, nl.Len())
}

func TestNamedLockerReaders(t *testing.T) {
	nl := NewNamedLocker()
	nl.RLock("a")
	nl.RLock("a")
	assert.Equal(t, 1, nl.Len())
	nl.RUnlock("a")
	nl.RUnlock("a")
	assert.Equal(t, 0, nl.Len())
}

func TestNamedLockerUnlockUnknownPanics(t *testing.T) {
	nl := NewNamedLocker()
	assert.Panics(t, func() { nl.Unlock("missing") })
}
