package twilio

import "testing"

func TestUlawRoundTripWithinQuantizationError(t *testing.T) {
	samples := []int16{0, 100, 1000, 10000, 32000, -100, -1000, -10000, -32000}

	for _, original := range samples {
		encoded := encodeUlawSample(original)
		decoded := decodeUlawSample(encoded)

		diff := original - decoded
		if diff < 0 {
			diff = -diff
		}

		absOriginal := original
		if absOriginal < 0 {
			absOriginal = -absOriginal
		}
		maxError := int16(float64(absOriginal) * 0.05)
		if maxError < 200 {
			maxError = 200
		}

		if diff > maxError && original != 0 {
			t.Errorf("round-trip for %d: encoded=%02x, decoded=%d, diff=%d (max allowed %d)", original, encoded, decoded, diff, maxError)
		}
	}
}

func TestDecodeUlawFrameMatchesPerSampleDecode(t *testing.T) {
	ulaw := []byte{0x7F, 0xFF, 0x00, 0x80}
	pcm := decodeUlawFrame(ulaw)

	if len(pcm) != len(ulaw)*2 {
		t.Fatalf("expected PCM length %d, got %d", len(ulaw)*2, len(pcm))
	}
	for i, b := range ulaw {
		want := decodeUlawSample(b)
		got := int16(pcm[i*2]) | (int16(pcm[i*2+1]) << 8)
		if got != want {
			t.Errorf("sample %d: expected %d, got %d", i, want, got)
		}
	}
}

func TestEncodeUlawFrameMatchesPerSampleEncode(t *testing.T) {
	samples := []int16{0, 1000, -1000, 10000, -10000}
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		pcm[i*2] = byte(s)
		pcm[i*2+1] = byte(s >> 8)
	}

	ulaw := encodeUlawFrame(pcm)
	if len(ulaw) != len(samples) {
		t.Fatalf("expected mu-law length %d, got %d", len(samples), len(ulaw))
	}
	for i, s := range samples {
		want := encodeUlawSample(s)
		if ulaw[i] != want {
			t.Errorf("sample %d (%d): expected %02x, got %02x", i, s, want, ulaw[i])
		}
	}
}

func TestDecodeUlawSampleKnownValues(t *testing.T) {
	if d := decodeUlawSample(0x7F); d != 0 {
		t.Errorf("mu-law 0x7F should decode to 0, got %d", d)
	}
	if d := decodeUlawSample(0xFF); d != 0 {
		t.Errorf("mu-law 0xFF should decode to 0, got %d", d)
	}
	if d := decodeUlawSample(0x00); d >= 0 {
		t.Errorf("mu-law 0x00 should decode to a negative value, got %d", d)
	}
	if d := decodeUlawSample(0x80); d <= 0 {
		t.Errorf("mu-law 0x80 should decode to a positive value, got %d", d)
	}
}

func BenchmarkDecodeUlawFrame(b *testing.B) {
	ulaw := make([]byte, 8000) // 1 second at 8kHz
	for i := range ulaw {
		ulaw[i] = byte(i % 256)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = decodeUlawFrame(ulaw)
	}
}

func BenchmarkEncodeUlawFrame(b *testing.B) {
	pcm := make([]byte, 16000) // 1 second at 8kHz, 16-bit
	for i := 0; i < len(pcm); i += 2 {
		sample := int16((i / 2) * 10)
		pcm[i] = byte(sample)
		pcm[i+1] = byte(sample >> 8)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = encodeUlawFrame(pcm)
	}
}
