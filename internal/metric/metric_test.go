package metric

import "testing"

func TestRFC7181RoundTripNeverUnderestimates(t *testing.T) {
	t.Parallel()

	values := []uint32{0, 1, 63, 64, 2047, 2048, 100000, 54_000_000, Infinite - 1}
	for _, v := range values {
		enc := EncodeRFC7181(v)
		dec := DecodeRFC7181(enc)
		if dec < v {
			t.Errorf("DecodeRFC7181(EncodeRFC7181(%d)) = %d, want >= %d", v, dec, v)
		}
	}
}

func TestRFC7181InfiniteSentinel(t *testing.T) {
	t.Parallel()

	if got := DecodeRFC7181(0xFFFF); got != Infinite {
		t.Errorf("DecodeRFC7181(0xFFFF) = %d, want Infinite", got)
	}
	if got := EncodeRFC7181(Infinite); got != 0xFFFF {
		t.Errorf("EncodeRFC7181(Infinite) = %#x, want 0xFFFF", got)
	}
}

func TestRFC7181Idempotent(t *testing.T) {
	t.Parallel()

	// R1: parsing then re-quantizing an already-quantized value is a no-op.
	for _, v := range []uint32{5, 1000, 65536, 999999} {
		once := DecodeRFC7181(EncodeRFC7181(v))
		twice := DecodeRFC7181(EncodeRFC7181(once))
		if once != twice {
			t.Errorf("quantization not idempotent for %d: once=%d twice=%d", v, once, twice)
		}
	}
}

func TestParseValueBitrate(t *testing.T) {
	t.Parallel()

	md := NeighMetadata[NeighTxBitrate]
	got, err := ParseValue(md, "54M")
	if err != nil {
		t.Fatalf("ParseValue: %v", err)
	}
	if want := int64(54 * 1024 * 1024); got != want {
		t.Errorf("ParseValue(54M) = %d, want %d", got, want)
	}
}

func TestParseValueOutOfRange(t *testing.T) {
	t.Parallel()

	md := NeighMetadata[NeighTxRLQ]
	if _, err := ParseValue(md, "150"); err == nil {
		t.Error("expected error for RLQ=150 (max 100)")
	}
}

func TestParseValueBadInput(t *testing.T) {
	t.Parallel()

	md := NeighMetadata[NeighLatency]
	if _, err := ParseValue(md, "not-a-number"); err == nil {
		t.Error("expected parse error for non-numeric input")
	}
}
