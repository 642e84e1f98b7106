package audio_test

import (
	"encoding/base64"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/MrWong99/studysync/pkg/audio"
)

const quantStep = 1.0/32767 + 1e-6

func TestFloatToPCM16_Clamps(t *testing.T) {
	t.Parallel()

	got := bytesToSamples(audio.FloatToPCM16([]float32{2, -3, 1, -1, 0, float32(math.NaN())}))
	want := []int16{32767, -32768, 32767, -32768, 0, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestEncode_Framing(t *testing.T) {
	t.Parallel()

	frame := audio.Encode([]float32{0, 1}, 16000)
	raw, err := base64.StdEncoding.DecodeString(frame.Data)
	if err != nil {
		t.Fatalf("frame is not valid base64: %v", err)
	}
	if len(raw) != 4 {
		t.Fatalf("got %d bytes, want 4", len(raw))
	}
	if got := bytesToSamples(raw); got[0] != 0 || got[1] != 32767 {
		t.Errorf("samples = %v, want [0 32767]", got)
	}
	if got := frame.MIMEType(); got != "audio/pcm;rate=16000" {
		t.Errorf("MIMEType = %q", got)
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(1, 2))
	samples := make([]float32, 4096)
	for i := range samples {
		samples[i] = rng.Float32()*2 - 1
	}
	samples[0], samples[1], samples[2] = -1, 1, 0

	raw, err := audio.Decode(audio.Encode(samples, 16000).Data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, err := audio.BytesToSamples(raw)
	if err != nil {
		t.Fatalf("BytesToSamples: %v", err)
	}
	if len(got) != len(samples) {
		t.Fatalf("got %d samples, want %d", len(got), len(samples))
	}
	for i := range samples {
		if d := math.Abs(float64(got[i] - samples[i])); d > quantStep {
			t.Fatalf("sample %d: got %v, want %v (diff %v)", i, got[i], samples[i], d)
		}
	}
}

func TestDecode_Malformed(t *testing.T) {
	t.Parallel()

	_, err := audio.Decode("not base64!!")
	if !errors.Is(err, audio.ErrDecode) {
		t.Fatalf("got %v, want ErrDecode", err)
	}
}

func TestBytesToSamples_OddLength(t *testing.T) {
	t.Parallel()

	_, err := audio.BytesToSamples([]byte{1, 2, 3})
	if !errors.Is(err, audio.ErrDecode) {
		t.Fatalf("got %v, want ErrDecode", err)
	}
}

func TestBytesToSamples_Range(t *testing.T) {
	t.Parallel()

	got, err := audio.BytesToSamples(samplesToBytes([]int16{-32768, 32767, 0}))
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != -1 || got[1] != 1 || got[2] != 0 {
		t.Errorf("got %v, want [-1 1 0]", got)
	}
}
