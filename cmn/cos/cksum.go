// Package cos (common OS/util helpers) provides checksumming, atomic file
// persistence, and small value types shared across the core.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/OneOfOne/xxhash"
)

// Checksum algorithms. SHA256 is the default for anything that must be
// collision-resistant (content references, chain hashes); XXHash is a
// fast non-cryptographic alternative for checks where collision
// resistance against an adversary isn't required (no core path uses it).
const (
	ChecksumSHA256 = "sha256"
	ChecksumXXHash = "xxhash"

	SizeofI64 = 8
)

type Cksum struct {
	ty  string
	val string
}

func NewCksum(ty, val string) *Cksum {
	if ty == "" {
		return nil
	}
	return &Cksum{ty: ty, val: val}
}

func (c *Cksum) Type() string { return c.ty }
func (c *Cksum) Value() string {
	if c == nil {
		return ""
	}
	return c.val
}

func (c *Cksum) Equal(o *Cksum) bool {
	if c == nil || o == nil {
		return c == o
	}
	return c.ty == o.ty && c.val == o.val
}

func (c *Cksum) String() string {
	if c == nil {
		return "()"
	}
	return fmt.Sprintf("(%s: %s)", c.ty, c.val)
}

// ErrBadCksum is returned by Load when the on-disk checksum doesn't match
// the recomputed one.
type ErrBadCksum struct {
	Expected *Cksum
	Actual   *Cksum
}

func (e *ErrBadCksum) Error() string {
	return fmt.Sprintf("bad checksum: expected %s, got %s", e.Expected, e.Actual)
}

func (e *ErrBadCksum) Is(target error) bool {
	_, ok := target.(*ErrBadCksum)
	return ok
}

// ChecksumBytes computes the digest of b using the default (SHA256) algorithm.
func ChecksumBytes(b []byte) *Cksum {
	sum := sha256.Sum256(b)
	return NewCksum(ChecksumSHA256, hex.EncodeToString(sum[:]))
}

// ChecksumBytesFast computes a fast, non-cryptographic digest, for callers
// that don't need collision resistance.
func ChecksumBytesFast(b []byte) *Cksum {
	h := xxhash.New64()
	_, _ = h.Write(b)
	return NewCksum(ChecksumXXHash, hex.EncodeToString(h.Sum(nil)))
}
