// Package primitive implements the host objects that back guest
// synchronization handles: mutexes, condition variables, read-write locks
// and counting semaphores.
//
// Every blocking call takes a context.Context and a Deadline. Cancelling the
// context wakes the caller with ECANCELED, which is how teardown interrupts
// a guest thread parked in a host call. Owners are guest thread handles.
package primitive
