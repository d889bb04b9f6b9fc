package ble

import "testing"

func TestParseAddressNormalizesCase(t *testing.T) {
	addr, err := parseAddress(" aa:bb:cc:dd:ee:0f ")
	if err != nil {
		t.Fatalf("parseAddress() error = %v", err)
	}
	if got, want := addr.String(), "AA:BB:CC:DD:EE:0F"; got != want {
		t.Errorf("addr.String() = %q, want %q", got, want)
	}
}

func TestParseAddressRejectsInvalid(t *testing.T) {
	for _, id := range []string{"", "AA:BB:CC", "ffe8badc-e1cb-46c6-9ad9-631ea7cbadff", "GG:BB:CC:DD:EE:FF"} {
		if _, err := parseAddress(id); err == nil {
			t.Errorf("parseAddress(%q) should fail", id)
		}
	}
}

func TestLinkDownMatchesLowercaseID(t *testing.T) {
	a := &TinygoAdapter{connections: make(map[string]*tinygoConnection)}
	addr, err := parseAddress("aa:bb:cc:dd:ee:ff")
	if err != nil {
		t.Fatalf("parseAddress() error = %v", err)
	}
	conn := &tinygoConnection{owner: a, key: addr.String()}
	conn.up.Store(true)
	a.connections[conn.key] = conn

	fired := 0
	conn.OnDisconnect(func() { fired++ })

	// The connect handler reports the address as the stack prints it.
	a.linkDown("AA:BB:CC:DD:EE:FF")

	if fired != 1 {
		t.Errorf("disconnect callback fired %d times, want 1", fired)
	}
	if conn.Connected() {
		t.Error("connection should be down")
	}
	if len(a.connections) != 0 {
		t.Errorf("connections = %d, want 0", len(a.connections))
	}

	a.linkDown("AA:BB:CC:DD:EE:FF")
	if fired != 1 {
		t.Errorf("second link-down fired the callback again")
	}
}

func TestReleaseKeepsNewerConnection(t *testing.T) {
	a := &TinygoAdapter{connections: make(map[string]*tinygoConnection)}
	old := &tinygoConnection{owner: a, key: "AA:BB:CC:DD:EE:FF"}
	newer := &tinygoConnection{owner: a, key: "AA:BB:CC:DD:EE:FF"}
	a.connections[newer.key] = newer

	a.release(old)
	if a.connections[newer.key] != newer {
		t.Fatal("releasing a stale connection removed the live one")
	}

	a.release(newer)
	if len(a.connections) != 0 {
		t.Errorf("connections = %d, want 0 after release", len(a.connections))
	}
}
