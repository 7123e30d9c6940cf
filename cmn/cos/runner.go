// Package cos: the Runner contract that every long-lived subsystem (the
// management server, the /metrics endpoint) implements, so
// the process entry point can start/stop them uniformly.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package cos

type Runner interface {
	Run() error
	Stop(err error)
	Name() string
}
