package remote

import (
	"context"
	"fmt"
	"sync"
)

// ClientStub is an in-memory remote calendar with version tokens and call accounting.
type ClientStub struct {
	mu          sync.Mutex
	events      map[string]Event
	nextId      int
	nextVersion int
	calls       []string
	createErr   error
	updateErr   error
	getErr      error
	noVersions  bool
}

func NewClientStub() *ClientStub {
	return &ClientStub{
		events:      make(map[string]Event),
		nextId:      1,
		nextVersion: 1,
	}
}

func (c *ClientStub) Create(ctx context.Context, payload Payload) (Ref, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, "create")
	if c.createErr != nil {
		return Ref{}, c.createErr
	}
	ref := Ref{RemoteId: fmt.Sprintf("remote-%d", c.nextId), Version: c.newVersion()}
	c.nextId++
	c.events[ref.RemoteId] = Event{Ref: ref, Payload: payload}
	return ref, nil
}

func (c *ClientStub) Update(ctx context.Context, remoteId string, payload Payload, expectedVersion string) (Ref, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, "update")
	if c.updateErr != nil {
		return Ref{}, c.updateErr
	}
	existing, ok := c.events[remoteId]
	if !ok {
		return Ref{}, fmt.Errorf("%w: %s", ErrNotFound, remoteId)
	}
	if Comparable(expectedVersion, existing.Version) && existing.Version != expectedVersion {
		return Ref{}, fmt.Errorf("%w: %s", ErrPreconditionFailed, remoteId)
	}
	ref := Ref{RemoteId: remoteId, Version: c.newVersion()}
	c.events[remoteId] = Event{Ref: ref, Payload: payload}
	return ref, nil
}

func (c *ClientStub) Get(ctx context.Context, remoteId string) (Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, "get")
	if c.getErr != nil {
		return Event{}, c.getErr
	}
	event, ok := c.events[remoteId]
	if !ok {
		return Event{}, fmt.Errorf("%w: %s", ErrNotFound, remoteId)
	}
	return event, nil
}

func (c *ClientStub) newVersion() string {
	if c.noVersions {
		return ""
	}
	v := fmt.Sprintf("\"v%d\"", c.nextVersion)
	c.nextVersion++
	return v
}

// Helper methods for test setup

// Put stores an event as if it had been changed by another party.
func (c *ClientStub) Put(event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events[event.RemoteId] = event
}

// Touch simulates an external edit: the event gets a fresh version token.
func (c *ClientStub) Touch(remoteId string, mutate func(p *Payload)) Ref {
	c.mu.Lock()
	defer c.mu.Unlock()
	event := c.events[remoteId]
	if mutate != nil {
		mutate(&event.Payload)
	}
	event.Version = c.newVersion()
	c.events[remoteId] = event
	return event.Ref
}

func (c *ClientStub) Remove(remoteId string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.events, remoteId)
}

func (c *ClientStub) Event(remoteId string) (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	event, ok := c.events[remoteId]
	return event, ok
}

func (c *ClientStub) EventCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// Calls returns the names of the operations invoked so far.
func (c *ClientStub) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]string, len(c.calls))
	copy(result, c.calls)
	return result
}

// WriteCalls counts create and update calls, i.e. consumed quota units.
func (c *ClientStub) WriteCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, call := range c.calls {
		if call == "create" || call == "update" {
			n++
		}
	}
	return n
}

// DisableVersions makes the stub behave like a store that cannot supply version tokens.
func (c *ClientStub) DisableVersions() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.noVersions = true
}

// Error setters for testing error scenarios

func (c *ClientStub) SetCreateError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.createErr = err
}

func (c *ClientStub) SetUpdateError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updateErr = err
}

func (c *ClientStub) SetGetError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.getErr = err
}

func (c *ClientStub) ResetCalls() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = nil
}

// StubProvider hands out the same client for every owner.
type StubProvider struct {
	Client Client
	Err    error
}

func (p StubProvider) ClientFor(ctx context.Context, ownerId int) (Client, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	return p.Client, nil
}
