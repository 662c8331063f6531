package pthread

import "runtime"

// HostThread is the host side of a launched guest thread.
type HostThread interface {
	// Join blocks until the thread body has returned.
	Join()
	// Detach releases the handle without waiting.
	Detach()
}

// Launcher starts host threads. If Launch returns an error, fn has not run
// and never will.
type Launcher interface {
	Launch(fn func()) (HostThread, error)
}

// osLauncher runs each body on a goroutine wired to its own OS thread. The
// goroutine never unlocks, so the OS thread exits together with the body
// and per-thread state such as the kernel thread name dies with it.
type osLauncher struct{}

func (osLauncher) Launch(fn func()) (HostThread, error) {
	t := &osThread{done: make(chan struct{})}
	go func() {
		runtime.LockOSThread()
		defer close(t.done)
		fn()
	}()
	return t, nil
}

type osThread struct {
	done chan struct{}
}

func (t *osThread) Join() {
	<-t.done
}

func (t *osThread) Detach() {}
