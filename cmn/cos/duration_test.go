package cos_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/theater-rt/theater/cmn/cos"
)

func TestDurationJSONRoundTrip(t *testing.T) {
	in := cos.Duration(50 * time.Minute)
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `"50m0s"` {
		t.Fatalf("expected the human-readable form, got %s", b)
	}

	var out cos.Duration
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out != in {
		t.Fatalf("round-trip mismatch: %s != %s", out, in)
	}
}

func TestDurationAcceptsRawNanoseconds(t *testing.T) {
	var d cos.Duration
	if err := json.Unmarshal([]byte("1500000000"), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.D() != 1500*time.Millisecond {
		t.Fatalf("expected 1.5s, got %s", d)
	}
}
