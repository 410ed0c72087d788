package webmplay

import "sync"

// FrameBuffer is a fixed set of picture slots shared by the decode goroutine
// (producer) and the render call site (consumer).
//
// Slots move between a free queue and a ready queue by index. The consumer
// never reads a slot directly; due frames are copied into a single exposed
// frame under its own lock, so a long read does not stall the producer.
type FrameBuffer struct {
	frames []*Frame

	// queueMu guards free, ready, writing and shown.
	queueMu sync.Mutex
	free    indexQueue
	ready   indexQueue
	writing int // slot held by LockWrite, -1 if none
	shown   []bool

	updateMu sync.Mutex

	readMu    sync.Mutex
	readFrame *Frame

	dropped uint64
}

// NewFrameBuffer allocates count slots of the given display size. The
// exposed frame starts black at time 0.
func NewFrameBuffer(width, height, count int) *FrameBuffer {
	if count < 1 {
		count = 1
	}
	fb := &FrameBuffer{
		frames:    make([]*Frame, count),
		free:      newIndexQueue(count),
		ready:     newIndexQueue(count),
		writing:   -1,
		shown:     make([]bool, count),
		readFrame: newFrame(width, height),
	}
	for i := range fb.frames {
		fb.frames[i] = newFrame(width, height)
		fb.free.push(i)
	}
	return fb
}

// Len returns the number of slots.
func (fb *FrameBuffer) Len() int { return len(fb.frames) }

// LockWrite takes a free slot for the producer, stamped with time. It returns
// nil when the buffer is full or a write is already in progress.
func (fb *FrameBuffer) LockWrite(time float64) *Frame {
	fb.queueMu.Lock()
	defer fb.queueMu.Unlock()

	if fb.writing >= 0 || fb.free.len() == 0 {
		return nil
	}
	idx := fb.free.pop()
	fb.writing = idx
	fb.shown[idx] = false

	f := fb.frames[idx]
	f.time = time
	return f
}

// UnlockWrite publishes the slot taken by LockWrite to the ready queue.
func (fb *FrameBuffer) UnlockWrite() {
	fb.queueMu.Lock()
	defer fb.queueMu.Unlock()

	if fb.writing < 0 {
		return
	}
	fb.ready.push(fb.writing)
	fb.writing = -1
}

// CancelWrite returns the slot taken by LockWrite to the free queue without
// publishing it.
func (fb *FrameBuffer) CancelWrite() {
	fb.queueMu.Lock()
	defer fb.queueMu.Unlock()

	if fb.writing < 0 {
		return
	}
	fb.free.push(fb.writing)
	fb.writing = -1
}

// Update recycles ready frames that are at least frameTime behind playTime and
// exposes the oldest remaining frame once it is due. It returns the number of
// recycled frames that were never exposed.
func (fb *FrameBuffer) Update(playTime, frameTime float64) int {
	fb.updateMu.Lock()
	defer fb.updateMu.Unlock()

	dropped := 0
	show, hold := -1, -1

	fb.queueMu.Lock()
	for fb.ready.len() > 0 {
		idx := fb.ready.peek()
		if playTime-fb.frames[idx].time < frameTime {
			break
		}
		fb.ready.pop()
		if !fb.shown[idx] && fb.ready.len() == 0 {
			// Nothing newer is decoded yet; show this one late rather than
			// skip it. The slot is freed after the copy.
			show, hold = idx, idx
			break
		}
		if !fb.shown[idx] {
			dropped++
		}
		fb.free.push(idx)
	}
	if show < 0 && fb.ready.len() > 0 {
		idx := fb.ready.peek()
		if fb.frames[idx].time <= playTime && !fb.shown[idx] {
			show = idx
		}
	}
	if show >= 0 {
		fb.shown[show] = true
	}
	fb.dropped += uint64(dropped)
	fb.queueMu.Unlock()

	// The slot being copied is either still queued as ready or held back from
	// the free queue, and updateMu keeps other updates away from it.
	if show >= 0 {
		fb.readMu.Lock()
		fb.frames[show].copyTo(fb.readFrame)
		fb.readMu.Unlock()
	}
	if hold >= 0 {
		fb.queueMu.Lock()
		fb.free.push(hold)
		fb.queueMu.Unlock()
	}
	return dropped
}

// LockRead advances the buffer to playTime and returns the exposed frame with
// the read lock held. The caller must call UnlockRead.
func (fb *FrameBuffer) LockRead(playTime, frameTime float64) *Frame {
	fb.Update(playTime, frameTime)
	fb.readMu.Lock()
	return fb.readFrame
}

// UnlockRead releases the lock taken by LockRead.
func (fb *FrameBuffer) UnlockRead() {
	fb.readMu.Unlock()
}

// IsFull reports whether the producer has no free slot.
func (fb *FrameBuffer) IsFull() bool {
	fb.queueMu.Lock()
	defer fb.queueMu.Unlock()
	return fb.free.len() == 0
}

// Reset returns every ready frame to the free queue and blanks the exposed
// frame.
func (fb *FrameBuffer) Reset() {
	fb.updateMu.Lock()
	defer fb.updateMu.Unlock()

	fb.queueMu.Lock()
	for fb.ready.len() > 0 {
		fb.free.push(fb.ready.pop())
	}
	if fb.writing >= 0 {
		fb.free.push(fb.writing)
		fb.writing = -1
	}
	for i := range fb.shown {
		fb.shown[i] = false
	}
	fb.dropped = 0
	fb.queueMu.Unlock()

	fb.readMu.Lock()
	fb.readFrame.clear()
	fb.readMu.Unlock()
}

// Counts returns the free, ready and in-flight slot counts.
func (fb *FrameBuffer) Counts() (free, ready, writing int) {
	fb.queueMu.Lock()
	defer fb.queueMu.Unlock()

	if fb.writing >= 0 {
		writing = 1
	}
	return fb.free.len(), fb.ready.len(), writing
}

// Dropped returns the number of frames recycled without being exposed since
// the last Reset.
func (fb *FrameBuffer) Dropped() uint64 {
	fb.queueMu.Lock()
	defer fb.queueMu.Unlock()
	return fb.dropped
}

// indexQueue is a fixed-capacity FIFO of slot indices.
type indexQueue struct {
	buf   []int
	head  int
	count int
}

func newIndexQueue(capacity int) indexQueue {
	return indexQueue{buf: make([]int, capacity)}
}

func (q *indexQueue) len() int { return q.count }

func (q *indexQueue) push(v int) {
	q.buf[(q.head+q.count)%len(q.buf)] = v
	q.count++
}

func (q *indexQueue) peek() int { return q.buf[q.head] }

func (q *indexQueue) pop() int {
	v := q.buf[q.head]
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return v
}
