// Package collective implements the differentially-private community
// threat exchange: randomized response over the report decision, Laplace
// noise over severities, HMAC pseudonyms for subnets and agents, and
// k-anonymous aggregation. Raw addresses and agent ids are hashed before
// anything touches the store.
package collective

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net"

	"golang.org/x/crypto/hkdf"
)

// defaultHMACKey keeps hashing working when THREAT_HMAC_KEY is unset.
// Pseudonyms derived from it are linkable across deployments, hence the
// loud warning in NewHasher.
const defaultHMACKey = "bigr-collective-v1-default-hmac-key"

// Hasher produces the anonymizing pseudonyms. Two independent subkeys
// come out of HKDF-SHA256 so subnet hashes and agent hashes cannot be
// cross-correlated even though one master key configures both.
type Hasher struct {
	subnetKey []byte
	agentKey  []byte
}

func NewHasher(masterKey string) *Hasher {
	if masterKey == "" {
		masterKey = defaultHMACKey
		log.New(log.Writer(), "[COLLECTIVE] ", log.LstdFlags).
			Printf("⚠️ THREAT_HMAC_KEY not set; using the built-in key; hashes are linkable across deployments")
	}
	return &Hasher{
		subnetKey: deriveKey(masterKey, "subnet-hash"),
		agentKey:  deriveKey(masterKey, "agent-hash"),
	}
}

func deriveKey(master, info string) []byte {
	r := hkdf.New(sha256.New, []byte(master), nil, []byte(info))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		// 32 bytes is far under the HKDF output limit.
		panic(err)
	}
	return key
}

// SubnetHash pseudonymizes the /24 containing ip.
func (h *Hasher) SubnetHash(ip string) string {
	return hashHex(h.subnetKey, subnetOf(ip))
}

// AgentHash pseudonymizes a reporter identity.
func (h *Hasher) AgentHash(agentID string) string {
	return hashHex(h.agentKey, agentID)
}

// subnetOf maps an IPv4 address to its /24 in CIDR notation. Anything
// else hashes as given; the caller still gets a stable pseudonym.
func subnetOf(ip string) string {
	if v4 := net.ParseIP(ip).To4(); v4 != nil {
		return fmt.Sprintf("%d.%d.%d.0/24", v4[0], v4[1], v4[2])
	}
	return ip
}

func hashHex(key []byte, msg string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}
