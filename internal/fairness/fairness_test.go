package fairness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixedSeed = "5f1a7c0e9d3b2a4f6e8d0c1b3a5f7e9d1c3b5a7f9e1d3c5b7a9f1e3d5c7b9a1f"

func TestRevealIsDeterministic(t *testing.T) {
	in := Input{ServerSeed: fixedSeed, ClientSeed: "client", Nonce: 7, Sequence: 3, Variant: "dice"}

	first := Reveal(in)
	for i := 0; i < 100; i++ {
		again := Reveal(in)
		require.Equal(t, first, again)
	}
	assert.GreaterOrEqual(t, first.Float, 0.0)
	assert.Less(t, first.Float, 1.0)
	assert.Len(t, first.Hash, 64)
}

func TestRevealDependsOnEveryInput(t *testing.T) {
	base := Input{ServerSeed: fixedSeed, ClientSeed: "client", Nonce: 7, Sequence: 3, Variant: "dice"}
	ref := Reveal(base).Hash

	variants := []Input{
		{ServerSeed: fixedSeed + "0", ClientSeed: "client", Nonce: 7, Sequence: 3, Variant: "dice"},
		{ServerSeed: fixedSeed, ClientSeed: "other", Nonce: 7, Sequence: 3, Variant: "dice"},
		{ServerSeed: fixedSeed, ClientSeed: "client", Nonce: 8, Sequence: 3, Variant: "dice"},
		{ServerSeed: fixedSeed, ClientSeed: "client", Nonce: 7, Sequence: 4, Variant: "dice"},
		{ServerSeed: fixedSeed, ClientSeed: "client", Nonce: 7, Sequence: 3, Variant: "crash"},
	}
	for _, in := range variants {
		assert.NotEqual(t, ref, Reveal(in).Hash)
	}
}

func TestCommitVerify(t *testing.T) {
	seed, digest, err := Commit(nil)
	require.NoError(t, err)
	assert.Len(t, seed, 64)
	assert.True(t, Verify(seed, digest))
	assert.False(t, Verify(fixedSeed, digest))

	seed, digest, err = Commit(func() (string, error) { return fixedSeed, nil })
	require.NoError(t, err)
	assert.Equal(t, fixedSeed, seed)
	assert.Equal(t, HashSeed(fixedSeed), digest)
}

func TestRevealCommittedRejectsForeignSeed(t *testing.T) {
	in := Input{ServerSeed: fixedSeed, ClientSeed: "c", Nonce: 1, Sequence: 1, Variant: "dice"}

	_, err := RevealCommitted(in, HashSeed("another seed"))
	assert.ErrorIs(t, err, ErrSeedMismatch)

	draw, err := RevealCommitted(in, HashSeed(fixedSeed))
	require.NoError(t, err)
	assert.Equal(t, Reveal(in), draw)
}

func TestStream(t *testing.T) {
	a := Stream(fixedSeed, "round", 0)
	b := Stream(fixedSeed, "round", 1)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, Stream(fixedSeed, "round", 0))
}
