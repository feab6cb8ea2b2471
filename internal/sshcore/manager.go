package sshcore

import (
	"log"
	"sort"
	"sync"
)

// Manager is the registry mapping host name to Connection (spec.md §4.6).
// Entries are created lazily on first reference and never removed except
// by DisconnectAll.
//
// Lock-ordering rule: never hold mu while acquiring a Connection's own
// lock. GetConnection never touches a connection lock. ListHosts and
// DisconnectAll snapshot the map under mu, then release it before touching
// any connection.
type Manager struct {
	hosts  map[string]HostSpec
	dialer Dialer

	mu          sync.Mutex
	connections map[string]*Connection
}

// NewManager builds a Manager over the given allowlisted hosts.
func NewManager(hosts map[string]HostSpec, dialer Dialer) *Manager {
	return &Manager{
		hosts:       hosts,
		dialer:      dialer,
		connections: make(map[string]*Connection),
	}
}

// GetConnection validates name against the host allowlist and returns the
// (lazily constructed) Connection for it. No network I/O happens here.
func (m *Manager) GetConnection(name string) (*Connection, error) {
	spec, ok := m.hosts[name]
	if !ok {
		return nil, &HostNotAllowedError{Name: name, Available: m.sortedHostNames()}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if conn, ok := m.connections[name]; ok {
		return conn, nil
	}
	conn := NewConnection(spec, m.dialer)
	m.connections[name] = conn
	return conn, nil
}

func (m *Manager) sortedHostNames() []string {
	names := make([]string, 0, len(m.hosts))
	for n := range m.hosts {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ListHosts returns a status record per configured host, each with the
// host-config fields (has_key, command_timeout, allowed_commands?) layered
// on top of the bare Connection.Status() shape (spec.md §6: "listHosts
// adds" these on top of status()). It snapshots the connections map under
// mu, releases mu, then reads each connection's own status — avoiding
// holding the manager lock across a connection-lock acquisition
// (spec.md §4.6).
func (m *Manager) ListHosts() []HostListEntry {
	m.mu.Lock()
	snapshot := make(map[string]*Connection, len(m.connections))
	for k, v := range m.connections {
		snapshot[k] = v
	}
	m.mu.Unlock()

	names := m.sortedHostNames()
	entries := make([]HostListEntry, 0, len(names))
	for _, name := range names {
		spec := m.hosts[name]
		var status StatusRecord
		if conn, ok := snapshot[name]; ok {
			status = conn.Status()
		} else {
			status = StatusRecord{
				Name:      spec.Name,
				Hostname:  spec.Hostname,
				Port:      spec.Port,
				Username:  spec.Username,
				State:     StateDisconnected.String(),
				Connected: false,
			}
		}
		entries = append(entries, HostListEntry{
			StatusRecord:   status,
			HasKey:         spec.HasIdentityFile(),
			CommandTimeout: spec.CommandTimeout,
			AllowedCommands: func() []string {
				if spec.AllowedCommands == nil {
					return nil
				}
				return append([]string(nil), spec.AllowedCommands...)
			}(),
		})
	}
	return entries
}

// DisconnectAll atomically snapshots and empties the connections map under
// mu, then disconnects each snapshotted connection outside the lock,
// logging (not propagating) individual failures so one bad close cannot
// stop the rest.
func (m *Manager) DisconnectAll() {
	m.mu.Lock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, c := range m.connections {
		conns = append(conns, c)
	}
	m.connections = make(map[string]*Connection)
	m.mu.Unlock()

	for _, c := range conns {
		if err := c.Disconnect(); err != nil {
			log.Printf("sshcore: error disconnecting: %v", err)
		}
	}
	log.Printf("sshcore: all connections closed")
}
