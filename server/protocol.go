// Package server implements the management protocol: a length-prefixed,
// JSON-framed TCP interface onto a Theater Runtime. Every frame is a
// 4-byte big-endian length followed by exactly that many bytes of
// JSON - the same shape `loader.Instance.WriteBytes`'s "callee
// allocates" convention uses at the wasm boundary, applied here at the
// network boundary instead.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package server

import (
	"encoding/binary"
	"fmt"
	"io"
)

const frameHeaderSize = 4

// writeFrame writes b as one length-prefixed frame.
func writeFrame(w io.Writer, b []byte) error {
	var hdr [frameHeaderSize]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(b)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("server: write frame header: %w", err)
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("server: write frame body: %w", err)
	}
	return nil
}

// readFrame reads one length-prefixed frame, rejecting a declared length
// over maxFrame before allocating or reading its body.
func readFrame(r io.Reader, maxFrame int) ([]byte, error) {
	var hdr [frameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if int(n) > maxFrame {
		return nil, fmt.Errorf("server: frame of %d bytes exceeds limit %d", n, maxFrame)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("server: read frame body: %w", err)
	}
	return body, nil
}
