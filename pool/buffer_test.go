package pool_test

import (
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/momentics/wsengine/pool"
)

func TestBufferCursors(t *testing.T) {
	b := pool.NewBuffer(8)
	assert.Check(t, is.Equal(b.Write([]byte("abcdefghij")), 8))
	assert.Check(t, is.Equal(b.Available(), 0))

	assert.Check(t, is.DeepEqual(b.Next(3), []byte("abc")))
	c, err := b.ReadByte()
	assert.NilError(t, err)
	assert.Check(t, is.Equal(c, byte('d')))
	assert.Check(t, is.Equal(b.ReadOffset(), 4))

	b.Compact()
	assert.Check(t, is.Equal(b.ReadOffset(), 0))
	assert.Check(t, is.DeepEqual(b.Bytes(), []byte("efgh")))
	assert.Check(t, is.Equal(b.Available(), 4))

	n := copy(b.Free(), "xy")
	b.Commit(n)
	assert.Check(t, is.DeepEqual(b.Bytes(), []byte("efghxy")))

	b.Reset()
	assert.Check(t, is.Equal(b.Len(), 0))
	_, err = b.ReadByte()
	assert.Check(t, err != nil)
}

func TestBufferPoolReuse(t *testing.T) {
	p := pool.NewBufferPool()
	b1 := p.Get(128)
	b1.Write([]byte("stale"))
	p.Put(b1)

	b2 := p.Get(128)
	assert.Check(t, b1 == b2, "buffer was not reused")
	assert.Check(t, is.Equal(b2.Len(), 0))
	assert.Check(t, is.Equal(p.Get(64).Cap(), 64))
}
