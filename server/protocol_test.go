package server

import (
	"bytes"
	"strings"
	"testing"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte(`{"type":"StartActor"}`)
	if err := writeFrame(&buf, payload); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}
	got, err := readFrame(&buf, 1<<20)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestReadFrameRejectsOversizedDeclaredLength(t *testing.T) {
	var buf bytes.Buffer
	if err := writeFrame(&buf, make([]byte, 100)); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}
	_, err := readFrame(&buf, 10)
	if err == nil {
		t.Fatal("expected an error for a frame exceeding the limit")
	}
	if !strings.Contains(err.Error(), "exceeds limit") {
		t.Fatalf("expected an exceeds-limit error, got: %v", err)
	}
}

func TestReadFrameMultipleInSequence(t *testing.T) {
	var buf bytes.Buffer
	writeFrame(&buf, []byte("first"))
	writeFrame(&buf, []byte("second"))

	first, err := readFrame(&buf, 1<<20)
	if err != nil {
		t.Fatalf("readFrame 1: %v", err)
	}
	second, err := readFrame(&buf, 1<<20)
	if err != nil {
		t.Fatalf("readFrame 2: %v", err)
	}
	if string(first) != "first" || string(second) != "second" {
		t.Fatalf("got %q, %q", first, second)
	}
}
