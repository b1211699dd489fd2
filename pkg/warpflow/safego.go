package warpflow

import (
	"runtime/debug"
	"sync"

	"github.com/warpdl/warpmaster/pkg/logger"
)

// safeGo runs fn in a goroutine with panic recovery.
// If wg is non-nil, it's decremented on completion (normal or panic).
// If onPanic is non-nil, it's called with the recovered value.
func safeGo(l logger.Logger, wg *sync.WaitGroup, name string, onPanic func(r interface{}), fn func()) {
	go func() {
		if wg != nil {
			defer wg.Done()
		}
		defer func() {
			if r := recover(); r != nil {
				if l != nil {
					l.Error("PANIC [%s]: %v\n%s", name, r, debug.Stack())
				}
				if onPanic != nil {
					onPanic(r)
				}
			}
		}()
		fn()
	}()
}
