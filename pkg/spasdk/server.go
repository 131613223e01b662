// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

package spasdk

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// MaxPollWait bounds how long a Next call blocks waiting for events.
const MaxPollWait = 5 * time.Second

// Sentinel errors returned by the server.
var (
	ErrUnknownFactory      = errors.New("unknown factory")
	ErrUnknownInstance     = errors.New("unknown instance")
	ErrUnknownSubscription = errors.New("unknown subscription")
	ErrUnsupported         = errors.New("interface not supported")
)

// RPC argument and reply types. Every field is exported for gob.
type (
	InfoReply struct {
		APIVersion string
		Factories  []FactoryInfo
	}
	OpenArgs struct {
		Factory string
		Props   []Prop
	}
	OpenReply struct {
		Instance string
	}
	InterfaceArgs struct {
		Instance  string
		Interface string
	}
	SubscribeArgs struct {
		Instance  string
		Interface string
	}
	SubscribeReply struct {
		Subscription string
		Events       []Event
	}
	NextArgs struct {
		Subscription string
		WaitMillis   int64
	}
	NextReply struct {
		Events []Event
		Closed bool
	}
)

// Server exposes factories over net/rpc. It is registered under the name
// "Plugin" by go-plugin.
type Server struct {
	factories []Factory

	mu        sync.Mutex
	instances map[string]*instance
	subs      map[string]*subscription
}

type instance struct {
	id      string
	factory Factory
	impl    Instance
	subs    map[string]*subscription
}

// NewServer creates a server for factories. Names must be unique.
func NewServer(factories ...Factory) (*Server, error) {
	seen := make(map[string]bool, len(factories))
	for _, f := range factories {
		if f == nil || f.Name() == "" {
			return nil, errors.New("factory must have a name")
		}
		if seen[f.Name()] {
			return nil, fmt.Errorf("duplicate factory %q", f.Name())
		}
		seen[f.Name()] = true
	}
	return &Server{
		factories: factories,
		instances: make(map[string]*instance),
		subs:      make(map[string]*subscription),
	}, nil
}

// Info reports the API version and the served factories.
func (s *Server) Info(_ any, reply *InfoReply) error {
	reply.APIVersion = APIVersion
	reply.Factories = make([]FactoryInfo, 0, len(s.factories))
	for _, f := range s.factories {
		reply.Factories = append(reply.Factories, FactoryInfo{
			Name:       f.Name(),
			Interfaces: slices.Clone(f.Interfaces()),
		})
	}
	return nil
}

// Open creates an instance of a factory.
func (s *Server) Open(args OpenArgs, reply *OpenReply) error {
	f := s.factory(args.Factory)
	if f == nil {
		return fmt.Errorf("%w: %s", ErrUnknownFactory, args.Factory)
	}

	impl, err := f.New(args.Props)
	if err != nil {
		return fmt.Errorf("factory %s: %w", args.Factory, err)
	}
	if impl == nil {
		return fmt.Errorf("factory %s returned no instance", args.Factory)
	}

	inst := &instance{
		id:      ulid.Make().String(),
		factory: f,
		impl:    impl,
		subs:    make(map[string]*subscription),
	}

	s.mu.Lock()
	s.instances[inst.id] = inst
	s.mu.Unlock()

	reply.Instance = inst.id
	return nil
}

// Interface reports whether an instance implements an interface.
func (s *Server) Interface(args InterfaceArgs, reply *bool) error {
	inst, err := s.instance(args.Instance)
	if err != nil {
		return err
	}
	*reply = slices.Contains(inst.factory.Interfaces(), args.Interface)
	return nil
}

// Subscribe starts an event stream and returns its initial events.
func (s *Server) Subscribe(args SubscribeArgs, reply *SubscribeReply) error {
	inst, err := s.instance(args.Instance)
	if err != nil {
		return err
	}
	if !slices.Contains(inst.factory.Interfaces(), args.Interface) {
		return fmt.Errorf("%w: %s", ErrUnsupported, args.Interface)
	}

	sub := newSubscription(ulid.Make().String(), inst.id)
	stop, err := inst.impl.Subscribe(args.Interface, sub)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", args.Interface, err)
	}
	sub.stop = stop

	s.mu.Lock()
	s.subs[sub.id] = sub
	inst.subs[sub.id] = sub
	s.mu.Unlock()

	reply.Subscription = sub.id
	reply.Events = sub.take()
	return nil
}

// Next returns pending events, waiting up to WaitMillis for the first one.
// Closed is set once the subscription ended and every event was returned.
func (s *Server) Next(args NextArgs, reply *NextReply) error {
	s.mu.Lock()
	sub, ok := s.subs[args.Subscription]
	s.mu.Unlock()
	if !ok {
		reply.Closed = true
		return nil
	}

	wait := time.Duration(args.WaitMillis) * time.Millisecond
	if wait > MaxPollWait {
		wait = MaxPollWait
	}
	reply.Events, reply.Closed = sub.wait(wait)
	return nil
}

// Unsubscribe ends an event stream. Unknown subscriptions are ignored.
func (s *Server) Unsubscribe(id string, reply *bool) error {
	s.mu.Lock()
	sub, ok := s.subs[id]
	if ok {
		delete(s.subs, id)
		if inst, found := s.instances[sub.instance]; found {
			delete(inst.subs, id)
		}
	}
	s.mu.Unlock()

	if ok {
		sub.close()
	}
	*reply = ok
	return nil
}

// Close releases an instance and ends its subscriptions.
func (s *Server) Close(id string, reply *bool) error {
	s.mu.Lock()
	inst, ok := s.instances[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownInstance, id)
	}
	delete(s.instances, id)
	subs := make([]*subscription, 0, len(inst.subs))
	for sid, sub := range inst.subs {
		delete(s.subs, sid)
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	*reply = true
	return inst.impl.Close()
}

// Shutdown releases every instance.
func (s *Server) Shutdown() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.instances))
	for id := range s.instances {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var ok bool
	for _, id := range ids {
		_ = s.Close(id, &ok)
	}
}

func (s *Server) factory(name string) Factory {
	for _, f := range s.factories {
		if f.Name() == name {
			return f
		}
	}
	return nil
}

func (s *Server) instance(id string) (*instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstance, id)
	}
	return inst, nil
}

// subscription buffers the events of one stream.
type subscription struct {
	id       string
	instance string
	stop     func()

	mu     sync.Mutex
	events []Event
	closed bool
	notify chan struct{}
}

var _ Emitter = (*subscription)(nil)

func newSubscription(id, instance string) *subscription {
	return &subscription{
		id:       id,
		instance: instance,
		notify:   make(chan struct{}, 1),
	}
}

func (s *subscription) ObjectInfo(id uint32, info *ObjectInfo) {
	ev := Event{Kind: EventObjectInfo, ID: id}
	if info != nil {
		cp := *info
		cp.Props = slices.Clone(info.Props)
		ev.Object = &cp
	}
	s.push(ev)
}

func (s *subscription) Info(info *DeviceInfo) {
	ev := Event{Kind: EventInfo}
	if info != nil {
		cp := *info
		cp.Props = slices.Clone(info.Props)
		ev.Device = &cp
	} else {
		ev.Device = &DeviceInfo{}
	}
	s.push(ev)
}

func (s *subscription) push(ev Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.events = append(s.events, ev)
	s.mu.Unlock()
	s.signal()
}

func (s *subscription) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscription) take() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.events
	s.events = nil
	return out
}

func (s *subscription) wait(d time.Duration) ([]Event, bool) {
	if evs, closed := s.pending(); len(evs) > 0 || closed {
		return evs, closed && len(evs) == 0
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-s.notify:
	case <-timer.C:
	}

	evs, closed := s.pending()
	return evs, closed && len(evs) == 0
}

func (s *subscription) pending() ([]Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.events
	s.events = nil
	return out, s.closed
}

func (s *subscription) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	stop := s.stop
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	s.signal()
}
