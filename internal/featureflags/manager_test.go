package featureflags

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnabled_BooleanValues(t *testing.T) {
	m := NewManager("a=on,b=off,c=true,d=false,e=1,f=0")

	for _, name := range []string{"a", "c", "e"} {
		assert.True(t, m.Enabled(name, 1), name)
	}
	for _, name := range []string{"b", "d", "f", "unknown"} {
		assert.False(t, m.Enabled(name, 1), name)
	}
}

func TestEnabled_PercentageValues(t *testing.T) {
	m := NewManager("always=100%,never=0%,canary=25%,over=150%")

	assert.True(t, m.Enabled("always", 1))
	assert.True(t, m.Enabled("over", 1))
	assert.False(t, m.Enabled("never", 1))
	assert.False(t, m.Enabled("canary", 0), "anonymous callers are outside rollouts")

	first := m.Enabled("canary", 42)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, m.Enabled("canary", 42), "deterministic per user")
	}

	enabled := 0
	for uid := uint(1); uid <= 1000; uid++ {
		if m.Enabled("canary", uid) {
			enabled++
		}
	}
	assert.InDelta(t, 250, enabled, 80)
}

func TestParseAndSnapshot(t *testing.T) {
	m := NewManager(" bad ,X=on, y = 20% ,z=off,w=maybe,=on")

	assert.Equal(t, map[string]string{"x": "on", "y": "20%", "z": "off"}, m.Raw())

	snap := m.Snapshot(7)
	assert.Len(t, snap, 3)
	assert.True(t, snap["x"])
	assert.False(t, snap["z"])
}

func TestNilManager(t *testing.T) {
	var m *Manager
	assert.False(t, m.Enabled(RESTBroadcast, 1))
	assert.Empty(t, m.Raw())
	assert.Empty(t, m.Snapshot(1))
}

func TestDefaultFlags(t *testing.T) {
	m := NewManager("chat_rest_broadcast=on")
	assert.True(t, m.Enabled(RESTBroadcast, 3))
	assert.False(t, NewManager("").Enabled(RESTBroadcast, 3))
}
