package blockdev_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"

	"github.com/Lunatic0123/blockfs/blockdev"
)

func newTestDevice(t *testing.T, blocks int) *blockdev.FileDevice {
	t.Helper()
	backing := make([]byte, blocks*512)
	stream := bytesextra.NewReadWriteSeeker(backing)
	return blockdev.New(stream, 512, uint32(blocks))
}

func TestReadWriteRoundTrip(t *testing.T) {
	dev := newTestDevice(t, 4)

	want := make([]byte, 512)
	for i := range want {
		want[i] = byte(i)
	}
	require.NoError(t, dev.WriteBlock(2, want))

	got := make([]byte, 512)
	require.NoError(t, dev.ReadBlock(2, got))
	assert.Equal(t, want, got)
}

func TestReadBlockOutOfRange(t *testing.T) {
	dev := newTestDevice(t, 4)
	buf := make([]byte, 512)
	err := dev.ReadBlock(4, buf)
	assert.Error(t, err)
}

func TestWriteBlockWrongSize(t *testing.T) {
	dev := newTestDevice(t, 4)
	err := dev.WriteBlock(0, make([]byte, 10))
	assert.Error(t, err)
}

func TestDetermineBlockCount(t *testing.T) {
	assert.Equal(t, uint32(8), blockdev.DetermineBlockCount(4096*8, 4096))
	assert.Equal(t, uint32(8), blockdev.DetermineBlockCount(4096*8+100, 4096))
}
