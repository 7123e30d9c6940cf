//go:build !debug

// Package debug provides build-tag gated assertions used across the core.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package debug

import "sync"

func NewExpvar(string)              {}
func SetExpvar(string, string, int64) {}
func Func(f func())                 {}

func Assert(cond bool, a ...interface{})            {}
func AssertFunc(f func() bool, a ...interface{})    {}
func AssertMsg(cond bool, msg string)               {}
func AssertNoErr(err error)                         {}
func Assertf(cond bool, f string, a ...interface{}) {}
func AssertMutexLocked(m *sync.Mutex)               {}
func AssertRWMutexLocked(m *sync.RWMutex)           {}
