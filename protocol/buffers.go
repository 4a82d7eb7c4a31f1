package protocol

// OutputBuffer is the destination of the frame and VLQ encoders
type OutputBuffer interface {
	Output(data []byte)

	// CurPosition returns the number of bytes written so far
	CurPosition() int

	// DataSince returns the bytes written from pos on
	DataSince(pos int) []byte
}

// ScratchOutput is an OutputBuffer backed by one frame's worth of memory.
// Output past MessageMax bytes is dropped.
type ScratchOutput struct {
	buf [MessageMax]byte
	pos int
}

func NewScratchOutput() *ScratchOutput {
	return &ScratchOutput{}
}

func (s *ScratchOutput) Output(data []byte) {
	s.pos += copy(s.buf[s.pos:], data)
}

func (s *ScratchOutput) CurPosition() int {
	return s.pos
}

func (s *ScratchOutput) DataSince(pos int) []byte {
	if pos > s.pos {
		return nil
	}
	return s.buf[pos:s.pos]
}

// Result returns everything written since the last Reset
func (s *ScratchOutput) Result() []byte {
	return s.buf[:s.pos]
}

func (s *ScratchOutput) Reset() {
	s.pos = 0
}

// FifoBuffer is a byte ring holding received input until a frame completes
type FifoBuffer struct {
	buf   []byte
	head  int // index of the oldest byte
	count int
}

// NewFifoBuffer creates a ring holding up to capacity bytes
func NewFifoBuffer(capacity int) *FifoBuffer {
	return &FifoBuffer{buf: make([]byte, capacity)}
}

// Write appends as much of data as fits and returns the number of bytes taken
func (f *FifoBuffer) Write(data []byte) int {
	n := 0
	for _, b := range data {
		if f.count == len(f.buf) {
			break
		}
		f.buf[(f.head+f.count)%len(f.buf)] = b
		f.count++
		n++
	}
	return n
}

// Available returns the number of buffered bytes
func (f *FifoBuffer) Available() int {
	return f.count
}

// Free returns the room left
func (f *FifoBuffer) Free() int {
	return len(f.buf) - f.count
}

// Data returns the buffered bytes oldest first. The slice aliases the ring
// unless the contents wrap, in which case it is a copy.
func (f *FifoBuffer) Data() []byte {
	end := f.head + f.count
	if end <= len(f.buf) {
		return f.buf[f.head:end]
	}
	out := make([]byte, 0, f.count)
	out = append(out, f.buf[f.head:]...)
	return append(out, f.buf[:end-len(f.buf)]...)
}

// Pop discards the n oldest bytes
func (f *FifoBuffer) Pop(n int) {
	if n > f.count {
		n = f.count
	}
	f.head = (f.head + n) % len(f.buf)
	f.count -= n
}

func (f *FifoBuffer) Reset() {
	f.head = 0
	f.count = 0
}
