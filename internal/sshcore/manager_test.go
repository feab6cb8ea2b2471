package sshcore

import (
	"context"
	"errors"
	"testing"
)

func testHosts() map[string]HostSpec {
	return map[string]HostSpec{
		"web1": testSpec("web1"),
		"db1":  testSpec("db1"),
	}
}

func TestManager_GetConnectionUnknownHost(t *testing.T) {
	dialer := &fakeDialer{build: func() *fakeTransport { return &fakeTransport{} }}
	m := NewManager(testHosts(), dialer)

	_, err := m.GetConnection("ghost")
	var na *HostNotAllowedError
	if !errors.As(err, &na) {
		t.Fatalf("expected *HostNotAllowedError, got %T (%v)", err, err)
	}
	if len(na.Available) != 2 || na.Available[0] != "db1" || na.Available[1] != "web1" {
		t.Fatalf("expected sorted [db1 web1], got %v", na.Available)
	}
}

func TestManager_GetConnectionIsLazyAndMemoized(t *testing.T) {
	dialer := &fakeDialer{build: func() *fakeTransport { return &fakeTransport{} }}
	m := NewManager(testHosts(), dialer)

	c1, err := m.GetConnection("web1")
	if err != nil {
		t.Fatal(err)
	}
	if dialer.dials != 0 {
		t.Fatalf("GetConnection must not dial, dials=%d", dialer.dials)
	}

	c2, err := m.GetConnection("web1")
	if err != nil {
		t.Fatal(err)
	}
	if c1 != c2 {
		t.Fatal("expected the same Connection instance to be memoized")
	}
}

func TestManager_ListHostsShowsDisconnectedUntilFirstUse(t *testing.T) {
	dialer := &fakeDialer{build: func() *fakeTransport { return &fakeTransport{} }}
	m := NewManager(testHosts(), dialer)

	records := m.ListHosts()
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	for _, r := range records {
		if r.State != "disconnected" || r.Connected {
			t.Fatalf("expected disconnected state before any use, got %+v", r)
		}
	}

	conn, err := m.GetConnection("web1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Execute(context.Background(), "echo hi"); err != nil {
		t.Fatal(err)
	}

	records = m.ListHosts()
	var sawConnected bool
	for _, r := range records {
		if r.Name == "web1" {
			if r.State != "connected" || !r.Connected {
				t.Fatalf("expected web1 connected after use, got %+v", r)
			}
			sawConnected = true
		}
	}
	if !sawConnected {
		t.Fatal("web1 missing from ListHosts")
	}
}

func TestManager_DisconnectAllClosesAndEmpties(t *testing.T) {
	dialer := &fakeDialer{build: func() *fakeTransport { return &fakeTransport{} }}
	m := NewManager(testHosts(), dialer)

	for name := range testHosts() {
		conn, err := m.GetConnection(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := conn.Execute(context.Background(), "echo hi"); err != nil {
			t.Fatal(err)
		}
	}

	m.DisconnectAll()

	for _, r := range m.ListHosts() {
		if r.State != "disconnected" || r.Connected {
			t.Fatalf("expected all hosts disconnected after DisconnectAll, got %+v", r)
		}
	}
}
