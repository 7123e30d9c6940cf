// Package cos: atomic on-disk persistence - temp file plus rename, so a
// save/load never observes a torn write.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/golang/glog"
	"github.com/teris-io/shortid"
)

var tieSeq atomic.Uint64

// GenTie returns a short, unique suffix for temp-file names so concurrent
// writers to the same target path never collide on the staging file.
func GenTie() string {
	id, err := shortid.Generate()
	if err != nil {
		// shortid's only failure mode is generator exhaustion within the
		// same millisecond tick; a monotonically increasing fallback still
		// guarantees uniqueness for the staging name's purpose.
		return fmt.Sprintf("%d.%d", os.Getpid(), tieSeq.Add(1))
	}
	return id
}

func CreateFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
}

func FlushClose(f *os.File) error {
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func Close(f *os.File) {
	if err := f.Close(); err != nil {
		glog.Errorf("failed to close %s: %v", f.Name(), err)
	}
}

func RemoveFile(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// SaveAtomic writes b to path by staging it under path+".tmp."+tie and
// renaming into place - the rename is what makes concurrent readers see
// either the whole old file or the whole new one, never a partial write.
func SaveAtomic(path string, b []byte) (err error) {
	tmp := path + ".tmp." + GenTie()
	var f *os.File
	if f, err = CreateFile(tmp); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rmErr := RemoveFile(tmp); rmErr != nil {
				glog.Errorf("nested (%v): failed to remove %s: %v", err, tmp, rmErr)
			}
		}
	}()
	if _, err = f.Write(b); err != nil {
		Close(f)
		return err
	}
	if err = FlushClose(f); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func LoadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}
