package execution

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mr-tron/base58"
)

// Wallet holds the signing keypair for live trades. Key material storage
// is an external collaborator's concern — this only loads the 64-byte secret key a
// solana-keygen-style JSON array file already contains and signs with it.
type Wallet struct {
	private ed25519.PrivateKey
	public  string // base58-encoded
}

// LoadWallet reads a keypair file: a JSON array of 64 bytes, the first 32
// being the seed and the remaining 32 the public key, matching the format
// solana-keygen writes.
func LoadWallet(path string) (*Wallet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wallet keypair: %w", err)
	}

	var bytes []byte
	if err := json.Unmarshal(raw, &bytes); err != nil {
		return nil, fmt.Errorf("decode wallet keypair: %w", err)
	}
	if len(bytes) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("wallet keypair: expected %d bytes, got %d", ed25519.PrivateKeySize, len(bytes))
	}

	priv := ed25519.PrivateKey(bytes)
	pub := priv.Public().(ed25519.PublicKey)

	return &Wallet{
		private: priv,
		public:  base58.Encode(pub),
	}, nil
}

// PublicKey returns the base58-encoded fee-payer address.
func (w *Wallet) PublicKey() string {
	return w.public
}

// Sign produces the ed25519 signature over message, the raw bytes of a
// versioned transaction's signing message.
func (w *Wallet) Sign(message []byte) []byte {
	return ed25519.Sign(w.private, message)
}
