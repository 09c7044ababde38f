package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"
)

func TestDigestSHA256MatchesStdlib(t *testing.T) {
	h, err := New("")
	require.NoError(t, err)

	data := []byte("hello, scrub")
	want := sha256.Sum256(data)

	fp := h.Digest(data)
	assert.Equal(t, SHA256, fp.Algorithm)
	assert.Equal(t, hex.EncodeToString(want[:]), fp.String())
	assert.Equal(t, "sha256:"+hex.EncodeToString(want[:]), fp.Qualified())
}

func TestDigestIsDeterministic(t *testing.T) {
	for _, alg := range []string{"sha256", "BLAKE3"} {
		t.Run(alg, func(t *testing.T) {
			h, err := New(alg)
			require.NoError(t, err)

			data := make([]byte, 64*1024)
			for i := range data {
				data[i] = byte(i % 251)
			}
			copyOfData := append([]byte(nil), data...)

			assert.Equal(t, h.Digest(data), h.Digest(copyOfData))
			copyOfData[0] ^= 1
			assert.NotEqual(t, h.Digest(data), h.Digest(copyOfData))
		})
	}
}

func TestDigestEmpty(t *testing.T) {
	h, err := New("sha256")
	require.NoError(t, err)
	want := sha256.Sum256(nil)
	assert.Equal(t, want, h.Digest(nil).Sum)
	assert.Equal(t, want, h.Digest([]byte{}).Sum)

	b, err := New("blake3")
	require.NoError(t, err)
	assert.Equal(t, blake3.Sum256(nil), b.Digest(nil).Sum)
}

func TestNewUnsupported(t *testing.T) {
	_, err := New("md5")
	assert.Error(t, err)
}

func TestParse(t *testing.T) {
	h, _ := New("sha256")
	fp := h.Digest([]byte("x"))

	back, err := Parse(SHA256, fp.String())
	require.NoError(t, err)
	assert.Equal(t, fp, back)

	_, err = Parse(SHA256, "zz")
	assert.Error(t, err)
	_, err = Parse(SHA256, "abcd")
	assert.Error(t, err)
}
