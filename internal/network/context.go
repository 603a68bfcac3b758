// Package network tracks the active network partition and client connectivity.
package network

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/event"
)

// Change is published whenever the network name or connectivity flips.
type Change struct {
	Name   string
	Online bool
}

// Context holds the active network identifier. The zero value is not usable;
// use NewContext.
type Context struct {
	mu     sync.RWMutex
	name   string
	online bool
	feed   event.Feed
}

func NewContext(name string, online bool) *Context {
	return &Context{name: normalizeName(name), online: online}
}

// Current returns the active network name and whether the client is online.
func (c *Context) Current() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name, c.online
}

// SetNetwork switches the active network. It reports whether anything changed.
func (c *Context) SetNetwork(name string) bool {
	name = normalizeName(name)
	c.mu.Lock()
	if c.name == name {
		c.mu.Unlock()
		return false
	}
	c.name = name
	change := Change{Name: c.name, Online: c.online}
	c.mu.Unlock()

	c.feed.Send(change)
	return true
}

// SetOnline records connectivity. It reports whether anything changed.
func (c *Context) SetOnline(online bool) bool {
	c.mu.Lock()
	if c.online == online {
		c.mu.Unlock()
		return false
	}
	c.online = online
	change := Change{Name: c.name, Online: c.online}
	c.mu.Unlock()

	c.feed.Send(change)
	return true
}

// Subscribe delivers every Change to ch. Send blocks until all subscribers
// receive, so subscribers must keep draining ch until they unsubscribe.
func (c *Context) Subscribe(ch chan<- Change) event.Subscription {
	return c.feed.Subscribe(ch)
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
