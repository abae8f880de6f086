package invest

import (
	"encoding/hex"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// CredentialDomain separates KYB credential digests from every other signed
// payload in the system.
const CredentialDomain = "PAYOUT_AI_KYB_V1"

// Credential is the off-chain attestation a KYB validator signs for an
// approved investor. The digest binds the investor, a single-use nonce, an
// expiry and the deployment (chain ID plus manager address), so a credential
// cannot be replayed across deployments or reused after consumption.
type Credential struct {
	Domain   string
	ChainID  uint64
	Manager  [20]byte
	Investor [20]byte
	Nonce    uint64
	Expiry   int64
}

// Hash reconstructs the canonical message digest signed by a KYB validator.
func (c Credential) Hash() [32]byte {
	domain := strings.TrimSpace(c.Domain)
	if domain == "" {
		domain = CredentialDomain
	}
	payload := fmt.Sprintf("%s|chain=%d|manager=%s|investor=%s|nonce=%d|exp=%d",
		domain,
		c.ChainID,
		hex.EncodeToString(c.Manager[:]),
		hex.EncodeToString(c.Investor[:]),
		c.Nonce,
		c.Expiry,
	)
	var digest [32]byte
	copy(digest[:], ethcrypto.Keccak256([]byte(payload)))
	return digest
}
