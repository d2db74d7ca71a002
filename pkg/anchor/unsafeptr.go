package anchor

import "unsafe"

// ptrAt returns a pointer to the byte at offset within buf, used only to
// hand the generation counter's address to sync/atomic for the seqlock
// retry loop.
func ptrAt(buf []byte, offset int) unsafe.Pointer {
	return unsafe.Pointer(&buf[offset])
}
