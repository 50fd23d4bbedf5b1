package digest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompute(t *testing.T) {
	// sha256("abc")
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", Compute([]byte("abc")))
}

func TestVerify(t *testing.T) {
	data := []byte("%PDF-1.7")
	sum := Compute(data)

	assert.True(t, Verify(data, sum))
	assert.False(t, Verify([]byte("%PDF-1.6"), sum))
	assert.True(t, Verify(data, ""))
}
