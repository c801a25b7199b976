package blockio_test

import (
	"testing"

	"github.com/embedfat/fatguard/blockio"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

func newTestVolume(t *testing.T, bytesPerSector, totalSectors uint) *blockio.Volume {
	t.Helper()
	backing := make([]byte, bytesPerSector*totalSectors)
	stream := bytesextra.NewReadWriteSeeker(backing)
	return blockio.New(stream, bytesPerSector, totalSectors, 0)
}

func TestAcquireReadsThroughOnFirstAccess(t *testing.T) {
	vol := newTestVolume(t, 512, 4)

	sb, err := vol.Acquire(2, blockio.SectorData)
	require.NoError(t, err)
	require.Len(t, sb.Bytes(), 512)
	require.NoError(t, sb.Release())
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	vol := newTestVolume(t, 512, 4)

	payload := make([]byte, 512)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, vol.WriteSector(1, blockio.SectorData, payload))

	got, err := vol.ReadSector(1, blockio.SectorData)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestAtMostOneWritableHandlePerSector(t *testing.T) {
	vol := newTestVolume(t, 512, 4)

	first, err := vol.Acquire(0, blockio.SectorData)
	require.NoError(t, err)
	defer first.Release()

	_, err = vol.Acquire(0, blockio.SectorData)
	require.Error(t, err)
}

func TestReleaseFlushesDirtySector(t *testing.T) {
	vol := newTestVolume(t, 512, 4)

	sb, err := vol.Acquire(0, blockio.SectorData)
	require.NoError(t, err)
	sb.Bytes()[0] = 0x42
	sb.MarkDirty()
	require.NoError(t, sb.Release())
	require.EqualValues(t, 1, vol.WriteCounter())

	got, err := vol.ReadSector(0, blockio.SectorData)
	require.NoError(t, err)
	require.EqualValues(t, 0x42, got[0])
}

func TestInvalidateDropsDirtyWrite(t *testing.T) {
	vol := newTestVolume(t, 512, 4)

	sb, err := vol.Acquire(0, blockio.SectorData)
	require.NoError(t, err)
	sb.Bytes()[0] = 0x42
	sb.MarkDirty()
	sb.Invalidate()
	require.EqualValues(t, 0, vol.WriteCounter())

	got, err := vol.ReadSector(0, blockio.SectorData)
	require.NoError(t, err)
	require.NotEqualValues(t, 0x42, got[0])
}

func TestAcquireOutOfRangeFails(t *testing.T) {
	vol := newTestVolume(t, 512, 4)
	_, err := vol.Acquire(10, blockio.SectorData)
	require.Error(t, err)
}
