package pool

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetBufferIsEmpty(t *testing.T) {
	b := GetBuffer()
	b.WriteString("leftover")
	PutBuffer(b)

	b = GetBuffer()
	assert.Zero(t, b.Len())
	PutBuffer(b)
}

func TestPutBufferDropsLargeBuffers(t *testing.T) {
	big := bytes.NewBuffer(make([]byte, 0, maxPooledBuffer+1))
	PutBuffer(big)

	for i := 0; i < 8; i++ {
		b := GetBuffer()
		assert.NotSame(t, big, b)
	}
}
