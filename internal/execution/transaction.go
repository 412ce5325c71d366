package execution

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
)

// signVersionedTransaction deserializes the
// versioned transaction, signs the message bytes, and replaces the first
// signature slot" without a full Solana SDK (none of the retrieval pack's
// example repos vendor one — see DESIGN.md). A versioned transaction's wire
// format is a shortvec-prefixed array of 64-byte signatures followed by the
// message bytes that were signed; only the byte offsets are needed here.
func signVersionedTransaction(base64Tx string, wallet *Wallet) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(base64Tx)
	if err != nil {
		return "", fmt.Errorf("decode transaction: %w", err)
	}

	numSigs, prefixLen, err := decodeShortVecLength(raw)
	if err != nil {
		return "", fmt.Errorf("parse signature count: %w", err)
	}
	if numSigs == 0 {
		return "", fmt.Errorf("transaction carries no signature slots")
	}

	sigBlockLen := numSigs * ed25519.SignatureSize
	if len(raw) < prefixLen+sigBlockLen {
		return "", fmt.Errorf("transaction shorter than declared signature block")
	}

	message := raw[prefixLen+sigBlockLen:]
	signature := wallet.Sign(message)

	out := make([]byte, len(raw))
	copy(out, raw)
	copy(out[prefixLen:prefixLen+ed25519.SignatureSize], signature)

	return base64.StdEncoding.EncodeToString(out), nil
}

// decodeShortVecLength decodes Solana's compact-u16 ("shortvec") encoding
// used to prefix the signature array, returning the value and the number of
// bytes consumed.
func decodeShortVecLength(data []byte) (int, int, error) {
	var length int
	var shift uint
	for i := 0; i < 3; i++ {
		if i >= len(data) {
			return 0, 0, fmt.Errorf("truncated shortvec length")
		}
		b := data[i]
		length |= int(b&0x7f) << shift
		if b&0x80 == 0 {
			return length, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, fmt.Errorf("shortvec length exceeds 3 bytes")
}
