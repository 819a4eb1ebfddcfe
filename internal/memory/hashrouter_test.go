package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHashRouter_RejectsZeroSize(t *testing.T) {
	_, err := NewHashRouter(0)
	require.Error(t, err)
}

func TestHashRouter_Hash_Deterministic(t *testing.T) {
	r, err := NewHashRouter(1 << 16)
	require.NoError(t, err)

	a1, err := r.Hash("the quick fox")
	require.NoError(t, err)
	a2, err := r.Hash("the quick fox")
	require.NoError(t, err)

	assert.Equal(t, a1, a2)
	assert.Less(t, a1, uint64(1<<16))
}

func TestHashRouter_Hash_RejectsEmpty(t *testing.T) {
	r, err := NewHashRouter(1024)
	require.NoError(t, err)

	_, err = r.Hash("")
	require.Error(t, err)
}

func TestHashRouter_HashBatch_Order(t *testing.T) {
	r, err := NewHashRouter(1 << 16)
	require.NoError(t, err)

	ngrams := []string{"a b c", "d e f", "g h i"}
	addrs, err := r.HashBatch(ngrams)
	require.NoError(t, err)
	require.Len(t, addrs, len(ngrams))

	for i, ng := range ngrams {
		want, err := r.Hash(ng)
		require.NoError(t, err)
		assert.Equal(t, want, addrs[i])
	}
}

func TestHashRouter_VerifyDistribution_Uniform(t *testing.T) {
	r, err := NewHashRouter(1 << 16)
	require.NoError(t, err)

	sample := make([]string, 0, 5000)
	for i := 0; i < 5000; i++ {
		sample = append(sample, wordAt(i))
	}

	report, err := r.VerifyDistribution(sample)
	require.NoError(t, err)

	assert.Equal(t, 5000, report.SampleSize)
	assert.Greater(t, report.Uniformity, 0.5)
	assert.Less(t, report.CollisionRate, 0.1)
}

func TestHashRouter_VerifyDistribution_RejectsEmptySample(t *testing.T) {
	r, err := NewHashRouter(1024)
	require.NoError(t, err)

	_, err = r.VerifyDistribution(nil)
	require.Error(t, err)
}

func wordAt(i int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz"
	out := make([]byte, 0, 8)
	n := i + 1
	for n > 0 {
		out = append(out, alphabet[n%26])
		n /= 26
	}
	return string(out)
}
