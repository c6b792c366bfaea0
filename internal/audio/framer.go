package audio

// Framer regroups variable-sized capture reads into fixed-size frames
type Framer struct {
	size    int
	pending []float32
}

// NewFramer creates a framer emitting frames of size samples
func NewFramer(size int) *Framer {
	if size <= 0 {
		size = 4096
	}
	return &Framer{size: size, pending: make([]float32, 0, size)}
}

// Push appends samples and returns every complete frame now available.
// Returned frames are copies and safe to retain.
func (f *Framer) Push(samples []float32) [][]float32 {
	f.pending = append(f.pending, samples...)
	var frames [][]float32
	off := 0
	for len(f.pending)-off >= f.size {
		frame := make([]float32, f.size)
		copy(frame, f.pending[off:off+f.size])
		frames = append(frames, frame)
		off += f.size
	}
	if off > 0 {
		// keep the leftover at the front so the buffer is reused
		n := copy(f.pending, f.pending[off:])
		f.pending = f.pending[:n]
	}
	return frames
}

// Pending returns how many samples are waiting for a full frame
func (f *Framer) Pending() int {
	return len(f.pending)
}

// Reset drops buffered samples
func (f *Framer) Reset() {
	f.pending = f.pending[:0]
}
