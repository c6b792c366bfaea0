package audio

import (
	"bytes"
	"encoding/binary"
	"math"
	"math/rand"
	"testing"
)

func pcm16(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestPCMRoundTripWithinOneStep(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	samples := []float32{-1, -0.5, 0, 0.25, 0.999, 1}
	for i := 0; i < 2000; i++ {
		samples = append(samples, rng.Float32()*2-1)
	}

	got := PCM16ToFloats(FloatsToPCM16(samples), 1)
	if len(got) != 1 || len(got[0]) != len(samples) {
		t.Fatalf("decoded shape = %d channels", len(got))
	}
	const step = 1.0 / 32768
	for i, want := range samples {
		// encode scales by 32767 and decode divides by 32768: one step of
		// truncation plus at most one step of scale mismatch.
		diff := math.Abs(float64(got[0][i]) - float64(want))
		if diff > 2*step {
			t.Fatalf("sample %d: got %f want %f (diff %g)", i, got[0][i], want, diff)
		}
	}
}

func TestFloatsToPCM16Clamps(t *testing.T) {
	b := FloatsToPCM16([]float32{2, -3})
	f := []int16{int16(binary.LittleEndian.Uint16(b)), int16(binary.LittleEndian.Uint16(b[2:]))}
	if f[0] != 32767 || f[1] != -32767 {
		t.Fatalf("clamped samples = %v, want [32767 -32767]", f)
	}
}

func TestPCM16ToFloatsInterleaved(t *testing.T) {
	// two channels, three frames: L0 R0 L1 R1 L2 R2
	raw := pcm16(100, -100, 200, -200, 300, -300)
	got := PCM16ToFloats(raw, 2)
	if len(got) != 2 || len(got[0]) != 3 {
		t.Fatalf("shape = %d x %d", len(got), len(got[0]))
	}
	for i, want := range []int16{100, 200, 300} {
		if got[0][i] != float32(want)/32768 {
			t.Errorf("left[%d] = %f", i, got[0][i])
		}
		if got[1][i] != float32(-want)/32768 {
			t.Errorf("right[%d] = %f", i, got[1][i])
		}
	}
}

func TestPCM16ToFloatsIgnoresPartialFrame(t *testing.T) {
	got := PCM16ToFloats([]byte{1, 0, 2}, 1)
	if len(got[0]) != 1 {
		t.Fatalf("frames = %d, want 1", len(got[0]))
	}
}

func TestTransportTextRoundTrip(t *testing.T) {
	all := make([]byte, 256)
	for i := range all {
		all[i] = byte(i)
	}
	cases := map[string][]byte{
		"empty":    {},
		"zeros":    make([]byte, 64),
		"ones":     bytes.Repeat([]byte{0xFF}, 64),
		"all":      all,
		"odd":      {0x00, 0xFF, 0x80},
		"not utf8": {0xC3, 0x28, 0xA0, 0xA1},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			out, err := TransportTextToBytes(BytesToTransportText(in))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !bytes.Equal(in, out) {
				t.Fatalf("round trip mismatch: %v != %v", in, out)
			}
		})
	}
}

func TestTransportTextRejectsGarbage(t *testing.T) {
	if _, err := TransportTextToBytes("not base64!!"); err == nil {
		t.Fatal("expected error")
	}
}

func TestEncodeTagsRate(t *testing.T) {
	chunk := Encode([]float32{0, 0.5}, CaptureSampleRate)
	if chunk.MIMEType != "audio/pcm;rate=16000" {
		t.Fatalf("mime = %q", chunk.MIMEType)
	}
	b, err := TransportTextToBytes(chunk.Data)
	if err != nil || len(b) != 4 {
		t.Fatalf("payload = %v, %v", b, err)
	}
}

func TestFramer(t *testing.T) {
	f := NewFramer(4)
	if frames := f.Push([]float32{1, 2, 3}); len(frames) != 0 {
		t.Fatalf("got %d frames before full", len(frames))
	}
	frames := f.Push([]float32{4, 5, 6, 7, 8, 9})
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0][0] != 1 || frames[1][3] != 8 {
		t.Fatalf("frames = %v", frames)
	}
	if f.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", f.Pending())
	}
	f.Reset()
	if f.Pending() != 0 {
		t.Fatal("reset did not clear pending samples")
	}
}

func TestFramerExactFrames(t *testing.T) {
	tests := []struct {
		name   string
		size   int
		pushes []int
		frames int
	}{
		{"one frame", 4096, []int{4096}, 1},
		{"three frames at once", 4096, []int{3 * 4096}, 3},
		{"repeated exact reads", 4096, []int{4096, 4096, 4096}, 3},
		{"leftover then exact", 4, []int{3, 5, 4}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFramer(tt.size)
			total := 0
			next := float32(0)
			var got [][]float32
			for _, n := range tt.pushes {
				buf := make([]float32, n)
				for i := range buf {
					buf[i] = next
					next++
				}
				got = append(got, f.Push(buf)...)
			}
			if len(got) != tt.frames {
				t.Fatalf("got %d frames, want %d", len(got), tt.frames)
			}
			for i, frame := range got {
				if len(frame) != tt.size {
					t.Fatalf("frame %d has %d samples", i, len(frame))
				}
				for j, v := range frame {
					if v != float32(total) {
						t.Fatalf("frame %d sample %d = %v, want %v", i, j, v, total)
					}
					total++
				}
			}
			if f.Pending() != 0 {
				t.Fatalf("pending = %d, want 0", f.Pending())
			}
		})
	}
}
