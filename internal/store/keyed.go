// Package store holds the process-wide, network-partitioned caches: the pair
// store and the asset registry. Values are replaced, never mutated in place.
package store

import (
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/event"
)

// Change announces that the value stored under Key was replaced.
type Change struct {
	Store   string
	Key     string
	Version uint64
}

type entry[V any] struct {
	value   V
	version uint64
}

// Keyed is a copy-on-write map from partition key to value. A missing key
// reads as the zero value of V at version 0.
type Keyed[V any] struct {
	name string

	mu   sync.RWMutex
	data map[string]entry[V]
	feed event.Feed
}

func NewKeyed[V any](name string) *Keyed[V] {
	return &Keyed[V]{name: name, data: make(map[string]entry[V])}
}

// Get returns the current value for key.
func (k *Keyed[V]) Get(key string) V {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.data[key].value
}

// Version returns the number of times key has been set.
func (k *Keyed[V]) Version(key string) uint64 {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.data[key].version
}

// Set replaces the value for key and notifies subscribers.
func (k *Keyed[V]) Set(key string, value V) uint64 {
	k.mu.Lock()
	e := k.data[key]
	e.value = value
	e.version++
	k.data[key] = e
	k.mu.Unlock()

	k.feed.Send(Change{Store: k.name, Key: key, Version: e.version})
	return e.version
}

// Update computes a replacement from the current value under the write lock.
// When fn reports no change nothing is stored and no notification is sent.
func (k *Keyed[V]) Update(key string, fn func(current V) (V, bool)) (V, bool) {
	k.mu.Lock()
	e := k.data[key]
	next, changed := fn(e.value)
	if !changed {
		k.mu.Unlock()
		return e.value, false
	}
	e.value = next
	e.version++
	k.data[key] = e
	k.mu.Unlock()

	k.feed.Send(Change{Store: k.name, Key: key, Version: e.version})
	return next, true
}

// Keys lists every key that has been set, sorted.
func (k *Keyed[V]) Keys() []string {
	k.mu.RLock()
	keys := make([]string, 0, len(k.data))
	for key := range k.data {
		keys = append(keys, key)
	}
	k.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Subscribe delivers a Change for every replacement. Subscribers must drain ch.
func (k *Keyed[V]) Subscribe(ch chan<- Change) event.Subscription {
	return k.feed.Subscribe(ch)
}
