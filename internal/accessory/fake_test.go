package accessory

import (
	"sync"

	"github.com/nerrad567/knxbridge/internal/busclient"
	"github.com/nerrad567/knxbridge/internal/knx"
)

type busWrite struct {
	address string
	dpt     knx.DPT
	value   any
}

// fakeBus resolves every request synchronously. With echo set, writes are
// delivered back to subscribers the way knxd reflects them on the monitor.
type fakeBus struct {
	mu       sync.Mutex
	subs     map[string][]busclient.Subscriber
	writes   []busWrite
	reads    []string
	values   map[string]knx.Payload
	writeErr map[string]error
	readErr  error
	subErr   error
	echo     bool
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		subs:     make(map[string][]busclient.Subscriber),
		values:   make(map[string]knx.Payload),
		writeErr: make(map[string]error),
	}
}

func (b *fakeBus) Subscribe(address string, s busclient.Subscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subErr != nil {
		return b.subErr
	}
	b.subs[address] = append(b.subs[address], s)
	return nil
}

func (b *fakeBus) Read(address string) *busclient.Future[knx.Payload] {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reads = append(b.reads, address)
	if b.readErr != nil {
		return busclient.Resolved[knx.Payload](nil, b.readErr)
	}
	v, ok := b.values[address]
	if !ok {
		return busclient.Resolved[knx.Payload](nil, busclient.ErrReadTimeout)
	}
	return busclient.Resolved(v, nil)
}

func (b *fakeBus) Write(address string, dpt knx.DPT, value any) *busclient.Future[struct{}] {
	b.mu.Lock()
	b.writes = append(b.writes, busWrite{address, dpt, value})
	if err := b.writeErr[address]; err != nil {
		b.mu.Unlock()
		return busclient.Resolved(struct{}{}, err)
	}
	p, err := knx.Encode(dpt, value)
	if err != nil {
		b.mu.Unlock()
		return busclient.Resolved(struct{}{}, err)
	}
	b.values[address] = p
	echo := b.echo
	b.mu.Unlock()

	if echo {
		b.emit(address, p)
	}
	return busclient.Resolved(struct{}{}, nil)
}

// emit delivers a write event to the subscribers of address.
func (b *fakeBus) emit(address string, p knx.Payload) {
	b.mu.Lock()
	subs := append([]busclient.Subscriber(nil), b.subs[address]...)
	b.mu.Unlock()
	for _, s := range subs {
		s.BusUpdate(busclient.Update{Address: address, Source: "1.1.20", Payload: p})
	}
}

// emitValue encodes v as dpt and emits it.
func (b *fakeBus) emitValue(address string, dpt knx.DPT, v any) {
	p, err := knx.Encode(dpt, v)
	if err != nil {
		panic(err)
	}
	b.emit(address, p)
}

func (b *fakeBus) subscribed(address string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[address])
}

func (b *fakeBus) sentWrites() []busWrite {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]busWrite(nil), b.writes...)
}

// sink records every state change.
type sink struct {
	mu     sync.Mutex
	states []State
	ids    []string
}

func (s *sink) StateChanged(a Accessory, st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, a.ID())
	s.states = append(s.states, st)
}

func (s *sink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}

func (s *sink) last() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.states) == 0 {
		return nil
	}
	return s.states[len(s.states)-1]
}

func (s *sink) all() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]State(nil), s.states...)
}

func testDeps(bus *fakeBus, out *sink) Deps {
	d := Deps{Bus: bus}
	if out != nil {
		d.Sink = out
	}
	return d
}
