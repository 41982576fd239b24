package session

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubMember struct {
	closeOnce sync.Once
	done      chan struct{}
}

func newStubMember() *stubMember {
	return &stubMember{done: make(chan struct{})}
}

func (m *stubMember) Run() {}

func (m *stubMember) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}

func (m *stubMember) Done() <-chan struct{} { return m.done }

func TestRegistryRefusesBeyondCapacity(t *testing.T) {
	reg := NewRegistry(2, func(roomID string, remove func()) (Member, error) {
		return newStubMember(), nil
	})

	require.True(t, reg.Admit("room-1"))
	require.True(t, reg.Admit("room-2"))
	assert.False(t, reg.Admit("room-3"))
	assert.Equal(t, 2, reg.Len())
}

func TestRegistryRefusesDuplicateRoom(t *testing.T) {
	reg := NewRegistry(4, func(roomID string, remove func()) (Member, error) {
		return newStubMember(), nil
	})

	require.True(t, reg.Admit("room-1"))
	assert.False(t, reg.Admit("room-1"))
	assert.Equal(t, 1, reg.Len())
}

func TestRegistryFactoryFailureHoldsNoSlot(t *testing.T) {
	fail := true
	reg := NewRegistry(1, func(roomID string, remove func()) (Member, error) {
		if fail {
			return nil, errors.New("no peer connection")
		}
		return newStubMember(), nil
	})

	assert.False(t, reg.Admit("room-1"))
	assert.Equal(t, 0, reg.Len())

	fail = false
	assert.True(t, reg.Admit("room-1"))
}

func TestRegistryRemoveIsIdempotent(t *testing.T) {
	var member *stubMember
	reg := NewRegistry(1, func(roomID string, remove func()) (Member, error) {
		member = newStubMember()
		return member, nil
	})

	require.True(t, reg.Admit("room-1"))
	reg.Remove("room-1")
	reg.Remove("room-1")

	select {
	case <-member.Done():
	default:
		t.Fatal("member was not closed on removal")
	}
	assert.Equal(t, 0, reg.Len())

	// The slot frees up for a fresh session in the same room.
	assert.True(t, reg.Admit("room-1"))
}

func TestRegistrySelfRemoval(t *testing.T) {
	var member *stubMember
	var removeFn func()
	reg := NewRegistry(1, func(roomID string, remove func()) (Member, error) {
		member = newStubMember()
		removeFn = remove
		return member, nil
	})

	require.True(t, reg.Admit("room-1"))
	removeFn()

	select {
	case <-member.Done():
	default:
		t.Fatal("self-removal did not close the member")
	}
	assert.Equal(t, 0, reg.Len())
}
