// Package featureflags evaluates runtime switches configured through
// FEATURE_FLAGS, e.g. "chat_rest_broadcast=on,new_inbox=25%".
package featureflags

import (
	"hash/fnv"
	"strconv"
	"strings"
)

// RESTBroadcast pushes REST-originated messages to the chat room, like
// realtime sends.
const RESTBroadcast = "chat_rest_broadcast"

// rule is one parsed flag: fully on, fully off, or a percentage of users.
type rule struct {
	percent int
	raw     string
}

// Manager holds parsed flags. A nil Manager reports every flag disabled.
type Manager struct {
	rules map[string]rule
}

// NewManager parses a comma-separated list of name=value pairs. Values are
// on/true/1, off/false/0 or N%. Malformed entries are skipped.
func NewManager(raw string) *Manager {
	rules := make(map[string]rule)
	for _, pair := range strings.Split(raw, ",") {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		name, value = normalize(name), normalize(value)
		if name == "" || value == "" {
			continue
		}
		if r, ok := parseRule(value); ok {
			rules[name] = r
		}
	}
	return &Manager{rules: rules}
}

func parseRule(value string) (rule, bool) {
	switch value {
	case "on", "true", "1":
		return rule{percent: 100, raw: value}, true
	case "off", "false", "0":
		return rule{percent: 0, raw: value}, true
	}
	if !strings.HasSuffix(value, "%") {
		return rule{}, false
	}
	pct, err := strconv.Atoi(strings.TrimSuffix(value, "%"))
	if err != nil {
		return rule{}, false
	}
	return rule{percent: min(max(pct, 0), 100), raw: value}, true
}

// Enabled reports whether name is on for userID. Percentage rollouts are
// deterministic per user and always off for an anonymous caller.
func (m *Manager) Enabled(name string, userID uint) bool {
	if m == nil {
		return false
	}
	r, ok := m.rules[normalize(name)]
	if !ok {
		return false
	}
	switch {
	case r.percent >= 100:
		return true
	case r.percent <= 0, userID == 0:
		return false
	}
	return bucket(name, userID) < r.percent
}

// Raw returns the configured values by flag name.
func (m *Manager) Raw() map[string]string {
	out := make(map[string]string)
	if m == nil {
		return out
	}
	for name, r := range m.rules {
		out[name] = r.raw
	}
	return out
}

// Snapshot evaluates every configured flag for userID.
func (m *Manager) Snapshot(userID uint) map[string]bool {
	out := make(map[string]bool)
	if m == nil {
		return out
	}
	for name := range m.rules {
		out[name] = m.Enabled(name, userID)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func bucket(name string, userID uint) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(normalize(name) + ":" + strconv.FormatUint(uint64(userID), 10)))
	return int(h.Sum32() % 100)
}
