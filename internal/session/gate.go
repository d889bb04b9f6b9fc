package session

// busyGate allows at most one outstanding write. Each acquisition gets a
// sequence number; only the completion or deadline carrying the current
// number can clear the gate, so a late completion from an abandoned write
// never releases a newer one.
type busyGate struct {
	busy  bool
	seq   uint64
	timer Timer
}

func (g *busyGate) acquire() (uint64, bool) {
	if g.busy {
		return 0, false
	}
	g.seq++
	g.busy = true
	return g.seq, true
}

// arm attaches the deadline timer for the current acquisition.
func (g *busyGate) arm(t Timer) {
	g.timer = t
}

// release clears the gate if seq is the current acquisition.
func (g *busyGate) release(seq uint64) bool {
	if !g.busy || seq != g.seq {
		return false
	}
	g.busy = false
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	return true
}

// reset clears the gate unconditionally and invalidates any write in flight.
func (g *busyGate) reset() {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.busy = false
	g.seq++
}
