package anchor

import (
	"encoding/binary"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeTestRegion(t *testing.T, path string, epochNanos, uptimeNanos int64, masterSince time.Duration, stable bool) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	buf := make([]byte, shmRegionSize)
	binary.LittleEndian.PutUint32(buf[offVersion:], shmLayoutVersion)
	binary.LittleEndian.PutUint32(buf[offGeneration:], 0)
	binary.LittleEndian.PutUint64(buf[offEpochNanos:], uint64(epochNanos))
	binary.LittleEndian.PutUint64(buf[offMasterUptime:], uint64(uptimeNanos))
	binary.LittleEndian.PutUint64(buf[offMasterSince:], uint64(masterSince))
	stableVal := uint32(0)
	if stable {
		stableVal = 1
	}
	binary.LittleEndian.PutUint32(buf[offStable:], stableVal)

	_, err = f.Write(buf)
	require.NoError(t, err)
}

func TestMasterClockReadsPublishedRegion(t *testing.T) {
	path := "/dev/shm/pierre-test-clock"
	defer os.Remove(path)

	epoch := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).UnixNano()
	writeTestRegion(t, path, epoch, 5_000_000_000, 12*time.Second, true)

	mc, err := OpenMasterClock("pierre-test-clock")
	if err != nil {
		t.Skipf("shared memory not available in this environment: %v", err)
	}
	defer mc.Close()

	snap, err := mc.Read()
	require.NoError(t, err)
	require.True(t, snap.Stable)
	require.Equal(t, epoch, snap.EpochNanos)
	require.Equal(t, int64(5_000_000_000), snap.MasterUptimeNanos)
	require.Equal(t, 12*time.Second, snap.MasterSince)
}

func TestMasterClockRejectsVersionMismatch(t *testing.T) {
	path := "/dev/shm/pierre-test-clock-badver"
	defer os.Remove(path)

	buf := make([]byte, shmRegionSize)
	binary.LittleEndian.PutUint32(buf[offVersion:], shmLayoutVersion+1)
	f, err := os.Create(path)
	require.NoError(t, err)
	_, err = f.Write(buf)
	require.NoError(t, err)
	f.Close()

	_, err = OpenMasterClock("pierre-test-clock-badver")
	require.Error(t, err)
}
