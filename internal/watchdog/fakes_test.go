package watchdog

import (
	"context"
	"errors"
	"sync"

	"github.com/loykin/pairwatch/internal/history"
	"github.com/loykin/pairwatch/internal/record"
	"github.com/loykin/pairwatch/internal/redeploy"
)

type fakeStore struct {
	mu       sync.Mutex
	pair     record.Pair
	exists   bool
	readErr  error
	writeErr error
	writes   int
}

func newFakeStore(p record.Pair) *fakeStore { return &fakeStore{pair: p, exists: true} }

func (s *fakeStore) Read() (record.Pair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return record.Pair{}, s.readErr
	}
	if !s.exists {
		return record.Pair{}, record.ErrNotFound
	}
	return s.pair, nil
}

func (s *fakeStore) ReadPeerID(slot int) (int, error) {
	p, err := s.Read()
	if err != nil {
		return record.NoPID, err
	}
	return p[slot], nil
}

func (s *fakeStore) WriteBoth(ownSlot, ownID, peerID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.writeErr != nil {
		return s.writeErr
	}
	s.pair[ownSlot] = ownID
	s.pair[record.Other(ownSlot)] = peerID
	s.exists = true
	return nil
}

func (s *fakeStore) snapshot() (record.Pair, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pair, s.writes
}

type fakeProber struct {
	mu    sync.Mutex
	alive map[int]bool
	panic bool
}

func newFakeProber(pids ...int) *fakeProber {
	p := &fakeProber{alive: map[int]bool{}}
	for _, pid := range pids {
		p.alive[pid] = true
	}
	return p
}

func (p *fakeProber) Alive(_ context.Context, pid int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.panic {
		panic("probe exploded")
	}
	return p.alive[pid]
}

func (p *fakeProber) set(pid int, alive bool) {
	p.mu.Lock()
	p.alive[pid] = alive
	p.mu.Unlock()
}

type fakeRedeployer struct {
	mu     sync.Mutex
	result redeploy.Result
	err    error
	calls  int
}

func (r *fakeRedeployer) EnsurePresent(_, _ string) (redeploy.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.result, r.err
}

type fakeLauncher struct {
	mu       sync.Mutex
	next     int
	err      error
	launched []string
	prober   *fakeProber
}

func (l *fakeLauncher) Launch(_ context.Context, execution string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return 0, l.err
	}
	l.launched = append(l.launched, execution)
	pid := l.next
	l.next++
	if l.prober != nil {
		l.prober.set(pid, true)
	}
	return pid, nil
}

func (l *fakeLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.launched)
}

type memSink struct {
	mu     sync.Mutex
	events []history.Event
	err    error
}

func (m *memSink) Send(_ context.Context, e history.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return m.err
}

func (m *memSink) types() []history.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]history.EventType, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}

var errBoom = errors.New("boom")
