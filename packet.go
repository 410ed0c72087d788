package webmplay

import "sync"

// DefaultPacketPoolSize is the number of packet slots a player allocates.
const DefaultPacketPoolSize = 4096

// Packet references one demuxed block. The frame payloads stay in the source
// and are read on decode.
type Packet struct {
	Block Block
	Type  TrackType
	Time  float64 // Presentation time in seconds

	slot int32
}

// Keyframe reports whether the block is marked as a keyframe.
func (p *Packet) Keyframe() bool { return p.Block.Keyframe }

// PacketPool is a fixed arena of packet slots. Slots keep their frame tables
// between uses so steady-state demuxing does not allocate.
type PacketPool struct {
	mu       sync.Mutex
	packets  []Packet
	acquired []bool
	free     []int32
}

// NewPacketPool creates a pool with size slots.
func NewPacketPool(size int) *PacketPool {
	if size < 1 {
		size = 1
	}
	pp := &PacketPool{
		packets:  make([]Packet, size),
		acquired: make([]bool, size),
		free:     make([]int32, size),
	}
	for i := range pp.packets {
		pp.packets[i].slot = int32(i)
		// Pop from the end hands out slot 0 first.
		pp.free[i] = int32(size - 1 - i)
	}
	return pp
}

// Acquire returns a free slot, or nil if the pool is exhausted. The slot is
// not cleared; the caller overwrites every field it uses.
func (pp *PacketPool) Acquire() *Packet {
	pp.mu.Lock()
	defer pp.mu.Unlock()

	n := len(pp.free)
	if n == 0 {
		return nil
	}
	idx := pp.free[n-1]
	pp.free = pp.free[:n-1]
	pp.acquired[idx] = true
	return &pp.packets[idx]
}

// Release returns a slot to the pool. Releasing nil, a foreign packet or a
// free slot is a no-op.
func (pp *PacketPool) Release(p *Packet) {
	if p == nil {
		return
	}

	pp.mu.Lock()
	defer pp.mu.Unlock()

	idx := p.slot
	if idx < 0 || int(idx) >= len(pp.packets) || &pp.packets[idx] != p {
		return
	}
	if !pp.acquired[idx] {
		return
	}
	pp.acquired[idx] = false
	p.Block.reset()
	p.Type = TrackTypeUnknown
	p.Time = 0
	pp.free = append(pp.free, idx)
}

// Cap returns the number of slots.
func (pp *PacketPool) Cap() int {
	return len(pp.packets)
}

// Available returns the number of free slots.
func (pp *PacketPool) Available() int {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	return len(pp.free)
}

// InUse returns the number of acquired slots.
func (pp *PacketPool) InUse() int {
	return pp.Cap() - pp.Available()
}

// PacketQueue is a synchronized FIFO of packets.
type PacketQueue struct {
	mu    sync.Mutex
	items []*Packet
	head  int
	count int
}

// NewPacketQueue creates an empty queue with room for capacity packets before
// it grows.
func NewPacketQueue(capacity int) *PacketQueue {
	if capacity < 1 {
		capacity = 16
	}
	return &PacketQueue{items: make([]*Packet, capacity)}
}

// Push appends p to the back of the queue.
func (q *PacketQueue) Push(p *Packet) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == len(q.items) {
		q.grow()
	}
	q.items[(q.head+q.count)%len(q.items)] = p
	q.count++
}

func (q *PacketQueue) grow() {
	n := len(q.items) * 2
	if n == 0 {
		n = 16
	}
	items := make([]*Packet, n)
	for i := 0; i < q.count; i++ {
		items[i] = q.items[(q.head+i)%len(q.items)]
	}
	q.items = items
	q.head = 0
}

// First returns the front packet without removing it, or nil.
func (q *PacketQueue) First() *Packet {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return nil
	}
	return q.items[q.head]
}

// Pop removes and returns the front packet, or nil.
func (q *PacketQueue) Pop() *Packet {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.popLocked()
}

func (q *PacketQueue) popLocked() *Packet {
	if q.count == 0 {
		return nil
	}
	p := q.items[q.head]
	q.items[q.head] = nil
	q.head = (q.head + 1) % len(q.items)
	q.count--
	return p
}

// Destroy drains the queue, passing each packet to release.
func (q *PacketQueue) Destroy(release func(*Packet)) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count > 0 {
		p := q.popLocked()
		if release != nil {
			release(p)
		}
	}
	q.head = 0
}

// Len returns the number of queued packets.
func (q *PacketQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Empty reports whether the queue has no packets.
func (q *PacketQueue) Empty() bool {
	return q.Len() == 0
}
