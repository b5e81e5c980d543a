//go:build !linux

package mqueue

import (
	"errors"
	"runtime"
)

var errUnsupported = errors.New("mqueue: posix message queues require linux, running on " + runtime.GOOS)

// Posix is unavailable on this platform; every operation fails.
type Posix struct{}

func NewPosix() *Posix { return &Posix{} }

func (p *Posix) Open(string, Options) (Queue, error) { return nil, errUnsupported }
func (p *Posix) Unlink(string) error                { return errUnsupported }
func (p *Posix) Exists(string) bool                 { return false }
