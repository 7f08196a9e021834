package collective

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubnetOf(t *testing.T) {
	tests := []struct {
		ip   string
		want string
	}{
		{"192.168.1.42", "192.168.1.0/24"},
		{"192.168.1.99", "192.168.1.0/24"},
		{"10.0.0.1", "10.0.0.0/24"},
		{"203.0.113.255", "203.0.113.0/24"},
		{"2001:db8::1", "2001:db8::1"}, // non-IPv4 hashes as given
		{"not-an-ip", "not-an-ip"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, subnetOf(tt.ip), tt.ip)
	}
}

func TestSubnetHashGroupsNeighbors(t *testing.T) {
	h := NewHasher("test-master-key")

	a := h.SubnetHash("192.168.1.42")
	b := h.SubnetHash("192.168.1.200")
	c := h.SubnetHash("192.168.2.42")

	assert.Equal(t, a, b, "same /24 must share a pseudonym")
	assert.NotEqual(t, a, c, "different /24s must not collide")
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{64}$`), a)
}

func TestHashDomainsAreSeparated(t *testing.T) {
	h := NewHasher("test-master-key")

	// Same input through the two subkeys must not produce the same
	// pseudonym, or subnet and agent hashes would be correlatable.
	assert.NotEqual(t, h.SubnetHash("input"), h.AgentHash("input"))
}

func TestHashesAreKeyedAndDeterministic(t *testing.T) {
	h1 := NewHasher("key-one")
	h2 := NewHasher("key-one")
	h3 := NewHasher("key-two")

	assert.Equal(t, h1.AgentHash("agent-1"), h2.AgentHash("agent-1"))
	assert.NotEqual(t, h1.AgentHash("agent-1"), h3.AgentHash("agent-1"))
	assert.NotEqual(t, h1.AgentHash("agent-1"), h1.AgentHash("agent-2"))
}

func TestEmptyKeyFallsBackToDefault(t *testing.T) {
	h := NewHasher("")
	d := NewHasher(defaultHMACKey)
	assert.Equal(t, d.AgentHash("agent-1"), h.AgentHash("agent-1"))
}
