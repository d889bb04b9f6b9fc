package session

import (
	"testing"
	"time"
)

func TestBusyGate(t *testing.T) {
	clk := newManualClock()
	var g busyGate

	seq, ok := g.acquire()
	if !ok {
		t.Fatal("acquire on idle gate failed")
	}
	g.arm(clk.AfterFunc(time.Second, func() {}))

	if _, ok := g.acquire(); ok {
		t.Fatal("second acquire should fail while busy")
	}
	if g.release(seq + 1) {
		t.Fatal("release with wrong seq should be ignored")
	}
	if !g.busy {
		t.Fatal("gate should still be busy")
	}
	if !g.release(seq) {
		t.Fatal("release with current seq should clear the gate")
	}
	if clk.Pending() != 0 {
		t.Errorf("deadline timer not stopped, %d pending", clk.Pending())
	}
	if g.release(seq) {
		t.Error("double release should be ignored")
	}
}

func TestBusyGateReset(t *testing.T) {
	clk := newManualClock()
	var g busyGate

	seq, _ := g.acquire()
	g.arm(clk.AfterFunc(time.Second, func() {}))
	g.reset()

	if g.busy {
		t.Fatal("reset should clear the gate")
	}
	if clk.Pending() != 0 {
		t.Errorf("reset left %d timers pending", clk.Pending())
	}

	next, ok := g.acquire()
	if !ok {
		t.Fatal("acquire after reset failed")
	}
	if g.release(seq) {
		t.Error("completion from before the reset released the new write")
	}
	if !g.release(next) {
		t.Error("current completion should release")
	}
}
