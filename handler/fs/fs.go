// Package fs implements the bundled filesystem handler: read-file,
// write-file, list-directory, each confined to an actor's allowed
// roots. Every denial is recorded as the call's output, never surfaced
// as an error outside the chain, so a denied call still replays exactly
// the way it ran live.
package fs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/theater-rt/theater/abi"
	"github.com/theater-rt/theater/handler"
)

const (
	Interface = "theater:simple/filesystem"
	Version   = "0.1.0"
)

func Register(r *handler.Registry) {
	r.Register(Interface, Version, factory)
}

func factory(policy handler.Policy) (handler.Func, error) {
	roots := make([]string, len(policy.AllowedRoots))
	for i, root := range policy.AllowedRoots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("fs: resolve allowed root %q: %w", root, err)
		}
		roots[i] = abs
	}
	return func(ctx context.Context, input abi.Value) (abi.Value, error) {
		return dispatch(roots, input)
	}, nil
}

func dispatch(roots []string, input abi.Value) (abi.Value, error) {
	fields := input.Fields
	op := fields["op"]
	path := fields["path"]

	resolved, allowed := resolve(roots, path.Str)
	if !allowed {
		return abi.Err(abi.String(fmt.Sprintf("fs: path %q outside allowed roots", path.Str))), nil
	}

	switch op.Str {
	case "read-file":
		b, err := os.ReadFile(resolved)
		if err != nil {
			return abi.Err(abi.String(err.Error())), nil
		}
		return abi.Ok(abi.Bytes(b)), nil
	case "write-file":
		contents := fields["contents"]
		if err := os.WriteFile(resolved, contents.Bytes, 0o644); err != nil {
			return abi.Err(abi.String(err.Error())), nil
		}
		return abi.Ok(abi.Unit()), nil
	case "list-directory":
		entries, err := os.ReadDir(resolved)
		if err != nil {
			return abi.Err(abi.String(err.Error())), nil
		}
		names := make([]abi.Value, len(entries))
		for i, e := range entries {
			names[i] = abi.String(e.Name())
		}
		return abi.Ok(abi.List(names...)), nil
	default:
		return abi.Err(abi.String(fmt.Sprintf("fs: unknown operation %q", op.Str))), nil
	}
}

// resolve joins a relative path against every allowed root in turn (an
// absolute path is taken as is) and accepts the first result that stays
// within that root after Clean, rejecting any attempt to walk out via "..".
func resolve(roots []string, path string) (string, bool) {
	for _, root := range roots {
		candidate := filepath.Clean(filepath.Join(root, path))
		if filepath.IsAbs(path) {
			candidate = filepath.Clean(path)
		}
		if candidate == root || strings.HasPrefix(candidate, root+string(filepath.Separator)) {
			return candidate, true
		}
	}
	return "", false
}
