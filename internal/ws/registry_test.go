package ws

import (
	"testing"

	"github.com/coder/websocket"
)

func TestRegistryRegisterAndUnregister(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	conn := &websocket.Conn{}

	r.Register("teacher@example.com", "tab-1", conn)
	if got := r.GetActive("teacher@example.com", "tab-1"); got != conn {
		t.Fatal("expected registered connection")
	}

	r.Unregister("teacher@example.com", "tab-1", conn)
	if got := r.GetActive("teacher@example.com", "tab-1"); got != nil {
		t.Fatal("expected connection removed")
	}
}

func TestRegistryUnregisterIgnoresStaleConn(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	current := &websocket.Conn{}
	stale := &websocket.Conn{}

	r.Register("teacher@example.com", "tab-1", current)
	r.Unregister("teacher@example.com", "tab-1", stale)

	if got := r.GetActive("teacher@example.com", "tab-1"); got != current {
		t.Fatal("unregistering a stale connection must not remove the current one")
	}
}
