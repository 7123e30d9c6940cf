// Package store implements the content-addressed blob store: immutable
// blobs keyed by their own hash, plus movable labels bound to a blob
// reference. The on-disk sharded layout prefixes file names to keep
// directories small and fast to walk; the "prefix" here is simply the
// first two hex characters of the content hash rather than a
// content-type tag.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package store

import "path/filepath"

const shardLen = 2

func blobPath(root, ref string) string {
	shard := ref
	if len(shard) > shardLen {
		shard = shard[:shardLen]
	}
	return filepath.Join(root, "blobs", shard, ref)
}

func labelPath(root, name string) string {
	return filepath.Join(root, "labels", name)
}
