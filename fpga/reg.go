package fpga

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

// Register is the access an FPGA register offers its users.
type Register interface {
	Read() uint32
	Write(v uint32)
	Set(mask uint32)
	Clear(mask uint32)
	Update(mask, v uint32)
}

// Reg is one 32-bit memory-mapped register.
//
// Loads and stores are single word accesses.  Set, Clear and Update
// are read-modify-write sequences serialized on the register's lock,
// so writers owning different bit ranges of the same register never
// lose each other's updates.  Exclusive load/store instructions are
// not used because they are not guaranteed on device memory.
type Reg struct {
	mu   sync.Mutex
	word *uint32
}

// RegAt views the 4 bytes at offset in b as a register.  offset must
// be a multiple of 4 and b must stay alive as long as the Reg.
func RegAt(b []byte, offset int) *Reg {
	return &Reg{word: (*uint32)(unsafe.Pointer(&b[offset]))}
}

// Read returns the register value.
func (r *Reg) Read() uint32 {
	return atomic.LoadUint32(r.word)
}

// Write stores v, replacing every bit.
func (r *Reg) Write(v uint32) {
	r.mu.Lock()
	atomic.StoreUint32(r.word, v)
	r.mu.Unlock()
}

// Set drives the bits in mask high.
func (r *Reg) Set(mask uint32) {
	r.mu.Lock()
	atomic.StoreUint32(r.word, atomic.LoadUint32(r.word)|mask)
	r.mu.Unlock()
}

// Clear drives the bits in mask low.
func (r *Reg) Clear(mask uint32) {
	r.mu.Lock()
	atomic.StoreUint32(r.word, atomic.LoadUint32(r.word)&^mask)
	r.mu.Unlock()
}

// Update replaces the bits in mask with the corresponding bits of v.
func (r *Reg) Update(mask, v uint32) {
	r.mu.Lock()
	atomic.StoreUint32(r.word, atomic.LoadUint32(r.word)&^mask|v&mask)
	r.mu.Unlock()
}

// Reg64 is a 64-bit register made of two consecutive 32-bit words.
type Reg64 struct {
	Lo *Reg
	Hi *Reg
}

// Write64 stores v.  The high word goes first so that control bits in
// the low word take effect only once the whole value is in place.
func (r *Reg64) Write64(v uint64) {
	r.Hi.Write(uint32(v >> 32))
	r.Lo.Write(uint32(v))
}

// Read64 returns the register value.
func (r *Reg64) Read64() uint64 {
	return uint64(r.Hi.Read())<<32 | uint64(r.Lo.Read())
}
