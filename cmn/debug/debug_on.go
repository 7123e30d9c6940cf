//go:build debug

// Package debug provides build-tag gated assertions used across the core.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package debug

import (
	"bytes"
	"expvar"
	"fmt"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"sync"

	"github.com/golang/glog"
)

var xmodules = map[string]*expvar.Map{}

// NewExpvar registers a per-module counter map, lazily, the first time a
// module reports a debug counter. Modules are named by package (store,
// chain, actorrt, ...) rather than a bitmask, since upstream glog doesn't
// carry a module-verbosity extension.
func NewExpvar(module string) {
	if _, ok := xmodules[module]; !ok {
		xmodules[module] = expvar.NewMap("theater." + module)
	}
}

func SetExpvar(module, name string, val int64) {
	m, ok := xmodules[module]
	if !ok {
		NewExpvar(module)
		m = xmodules[module]
	}
	v, ok := m.Get(name).(*expvar.Int)
	if !ok {
		v = new(expvar.Int)
		m.Set(name, v)
	}
	v.Set(val)
}

func Func(f func()) { f() }

func _panic(a ...interface{}) {
	msg := "DEBUG PANIC: "
	if len(a) > 0 {
		msg += fmt.Sprint(a...)
	}
	buffer := bytes.NewBuffer(make([]byte, 0, 1024))
	fmt.Fprint(buffer, msg)
	for i := 2; i < 9; i++ {
		_, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if !strings.Contains(file, "theater") {
			break
		}
		f := filepath.Base(file)
		if buffer.Len() > len(msg) {
			buffer.WriteString(" <- ")
		}
		fmt.Fprintf(buffer, "%s:%d", f, line)
	}
	glog.Errorf("%s", buffer.Bytes())
	glog.Flush()
	panic(msg)
}

func Assert(cond bool, a ...interface{}) {
	if !cond {
		_panic(a...)
	}
}

func AssertFunc(f func() bool, a ...interface{}) {
	if !f() {
		_panic(a...)
	}
}

func AssertMsg(cond bool, msg string) {
	if !cond {
		_panic(msg)
	}
}

func AssertNoErr(err error) {
	if err != nil {
		_panic(err)
	}
}

func Assertf(cond bool, f string, a ...interface{}) {
	if !cond {
		_panic(fmt.Sprintf(f, a...))
	}
}

// AssertMutexLocked is a debug-only aid for verifying the single-writer
// invariant on a chain append path; it has no effect in release builds.
func AssertMutexLocked(m *sync.Mutex) {
	state := reflect.ValueOf(m).Elem().FieldByName("state")
	AssertMsg(state.Int()&1 == 1, "Mutex not Locked")
}

func AssertRWMutexLocked(m *sync.RWMutex) {
	state := reflect.ValueOf(m).Elem().FieldByName("w").FieldByName("state")
	AssertMsg(state.Int()&1 == 1, "RWMutex not Locked")
}
