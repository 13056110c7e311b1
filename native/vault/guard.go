package vault

import "sync/atomic"

// reentrancyGuard admits one guarded operation at a time. Admission never
// blocks: a second caller, nested or concurrent, is turned away.
type reentrancyGuard struct {
	busy atomic.Bool
}

func (g *reentrancyGuard) enter() bool {
	return g.busy.CompareAndSwap(false, true)
}

func (g *reentrancyGuard) exit() {
	g.busy.Store(false)
}

// Busy reports whether an operation is in flight.
func (g *reentrancyGuard) Busy() bool {
	return g.busy.Load()
}
