// Package anchor implements C3: the master clock reader and the
// RTP-timestamp-to-local-time fusion rule that gives every other
// component a single notion of "now" in the sender's timeline.
//
// The master clock itself lives outside this process — an external PTP
// helper disciplines it and publishes the result through a POSIX shared
// memory region. Rather than reach for cgo to manipulate the helper's
// embedded pthread_mutex_t directly (correctness there can't be checked
// without running the toolchain, see DESIGN.md), this reader treats the
// region as a seqlock: the helper bumps a generation counter to an odd
// value before writing and back to even after, and a reader retries any
// snapshot taken mid-write. This is the same lock-free shared-memory
// pattern real-time audio transports (JACK, PipeWire) use for this exact
// problem, and it needs nothing from the writer but a correctly ordered
// counter.
package anchor

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// shmLayoutVersion is the version this reader understands; a mismatch
// with the region's own version field means the helper is newer (or
// older) than this build expects.
const shmLayoutVersion = 1

// shmRegionSize is the fixed size of the published region: version(4) +
// generation(4) + epochNanos(8) + masterUptimeNanos(8) + masterSince(8) +
// stable(4), rounded up to a page.
const shmRegionSize = 4096

const (
	offVersion      = 0
	offGeneration   = 4
	offEpochNanos   = 8
	offMasterUptime = 16
	offMasterSince  = 24
	offStable       = 32
)

// MasterClock reads the PTP helper's published time through mmap'd shared
// memory, retrying torn reads via the generation seqlock.
type MasterClock struct {
	file   *os.File
	region []byte
	name   string
}

// Snapshot is one consistent read of the shared region.
type Snapshot struct {
	EpochNanos        int64         // master's wall-clock epoch, nanoseconds since Unix epoch
	MasterUptimeNanos int64         // nanoseconds since the master clock started disciplining
	MasterSince       time.Duration // how long this host has considered that peer master
	Stable            bool          // the helper's own stability flag (BMCA settled)
}

// OpenMasterClock mmaps /dev/shm/<name>, the file the external PTP helper
// publishes to. The accessory does not create this file — it is a
// read-only consumer, and treats a missing file as ErrSupervisorFatal
// territory for the caller to decide.
func OpenMasterClock(name string) (*MasterClock, error) {
	path := "/dev/shm/" + name
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("anchor: open %s: %w", path, err)
	}

	region, err := unix.Mmap(int(f.Fd()), 0, shmRegionSize, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("anchor: mmap %s: %w", path, err)
	}

	version := binary.LittleEndian.Uint32(region[offVersion:])
	if version != shmLayoutVersion {
		unix.Munmap(region)
		f.Close()
		return nil, fmt.Errorf("anchor: shm layout version %d, want %d", version, shmLayoutVersion)
	}

	return &MasterClock{file: f, region: region, name: name}, nil
}

// Close unmaps the region and closes the backing file.
func (m *MasterClock) Close() error {
	if m.region != nil {
		_ = unix.Munmap(m.region)
		m.region = nil
	}
	return m.file.Close()
}

// Read takes a consistent snapshot of the published clock state, retrying
// while the helper's writer holds the generation counter at an odd value
// (a write in progress) or a read straddles a generation change.
func (m *MasterClock) Read() (Snapshot, error) {
	const maxRetries = 64
	genPtr := (*uint32)(ptrAt(m.region, offGeneration))

	for i := 0; i < maxRetries; i++ {
		g1 := atomic.LoadUint32(genPtr)
		if g1%2 == 1 {
			continue // writer in progress
		}

		snap := Snapshot{
			EpochNanos:        int64(binary.LittleEndian.Uint64(m.region[offEpochNanos:])),
			MasterUptimeNanos: int64(binary.LittleEndian.Uint64(m.region[offMasterUptime:])),
			MasterSince:       time.Duration(binary.LittleEndian.Uint64(m.region[offMasterSince:])),
			Stable:            binary.LittleEndian.Uint32(m.region[offStable:]) != 0,
		}

		g2 := atomic.LoadUint32(genPtr)
		if g1 == g2 {
			return snap, nil
		}
	}
	return Snapshot{}, fmt.Errorf("anchor: shm read did not settle after %d retries", maxRetries)
}
