// Package fairness implements the commit-reveal protocol. A server seed is
// generated and only its SHA-256 digest is published before the wager; the
// outcome float is HMAC-SHA256(serverSeed, variant:clientSeed:nonce:sequence)
// reduced to 52 bits, so anyone holding the revealed seed can recompute it.
package fairness

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
)

const seedBytes = 32

var ErrSeedMismatch = errors.New("server seed does not match committed hash")

// Input is everything the outcome depends on.
type Input struct {
	ServerSeed string
	ClientSeed string
	Nonce      int64
	Sequence   int64
	Variant    string
}

type Draw struct {
	// Hash is the full HMAC hex, published for verification.
	Hash string
	// Float is uniform in [0,1).
	Float float64
}

// SeedSource produces server seeds. Tests inject fixed seeds.
type SeedSource func() (string, error)

// NewServerSeed returns 256 bits of crypto/rand entropy, hex encoded.
func NewServerSeed() (string, error) {
	b := make([]byte, seedBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate server seed: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func HashSeed(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}

// Commit generates a fresh secret and returns it with its public digest.
// The secret must stay server-side until Reveal.
func Commit(source SeedSource) (seed, digest string, err error) {
	if source == nil {
		source = NewServerSeed
	}
	seed, err = source()
	if err != nil {
		return "", "", err
	}
	return seed, HashSeed(seed), nil
}

// Verify reports whether seed hashes to digest.
func Verify(seed, digest string) bool {
	return subtle.ConstantTimeCompare([]byte(HashSeed(seed)), []byte(digest)) == 1
}

// Reveal derives the outcome float. Same input, same output.
func Reveal(in Input) Draw {
	message := in.Variant + ":" + in.ClientSeed + ":" +
		strconv.FormatInt(in.Nonce, 10) + ":" + strconv.FormatInt(in.Sequence, 10)

	h := hmac.New(sha256.New, []byte(in.ServerSeed))
	h.Write([]byte(message))
	hash := hex.EncodeToString(h.Sum(nil))

	return Draw{Hash: hash, Float: floatFromHash(hash)}
}

// RevealCommitted refuses to derive anything from a seed that doesn't match
// the digest published at commit time.
func RevealCommitted(in Input, digest string) (Draw, error) {
	if !Verify(in.ServerSeed, digest) {
		return Draw{}, ErrSeedMismatch
	}
	return Reveal(in), nil
}

// floatFromHash uses the first 52 bits (13 hex characters) so the value
// fits a float64 mantissa exactly.
func floatFromHash(hash string) float64 {
	n, err := strconv.ParseUint(hash[:13], 16, 64)
	if err != nil {
		return 0
	}
	return float64(n) / math.Exp2(52)
}

// Stream derives successive floats from one seed, used for jackpot draws
// where several winners come from the same committed seed.
func Stream(seed, label string, index int) float64 {
	h := hmac.New(sha256.New, []byte(seed))
	h.Write([]byte(label + ":" + strconv.Itoa(index)))
	return floatFromHash(hex.EncodeToString(h.Sum(nil)))
}
