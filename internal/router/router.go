package router

import (
	"log/slog"
	"sync"

	"github.com/termpulse/termpulse/internal/logging"
)

var routerLog = logging.ForComponent(logging.CompRouter)

// DataFunc receives one raw output chunk for a channel. The chunk is shared
// across subscribers of the same dispatch pass; callbacks must not mutate it.
type DataFunc func(channelID string, chunk []byte)

// ExitFunc receives a channel exit. exitCode is -1 when unknown.
type ExitFunc func(channelID string, exitCode int)

// Source is the underlying transport the router multiplexes. The router
// installs at most one data hook and one exit hook on it for the lifetime of
// the process, regardless of how many logical subscribers register.
//
// Per-channel ordering is the source's contract: chunks for a given channel
// must be delivered sequentially, never concurrently or reordered.
type Source interface {
	SetDataHook(fn DataFunc) (cancel func())
	SetExitHook(fn ExitFunc) (cancel func())
}

// Subscription is the handle returned from Subscribe calls.
// Cancel is idempotent and safe to call from inside the subscriber's own
// callback: the in-flight dispatch pass still completes against its
// pre-dispatch snapshot, and delivery stops from the next event on.
type Subscription struct {
	cancel func()
	once   sync.Once
}

// Cancel removes the subscription.
func (s *Subscription) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

type dataSub struct {
	fn DataFunc
}

type exitSub struct {
	fn ExitFunc
}

// Router fans out channel output and exit events from a single Source to any
// number of logical subscribers. One underlying hook per event class; O(k)
// dispatch cost per chunk for the k subscribers of that channel.
//
// Explicitly constructed and owned by the composition root; pass the instance
// to whatever needs to subscribe rather than reaching for a global.
type Router struct {
	src Source

	mu         sync.Mutex
	data       map[string][]*dataSub
	exit       []*exitSub
	cancelData func()
	cancelExit func()
}

// New creates a router over the given source. No underlying hooks are
// installed until the first subscription of each class.
func New(src Source) *Router {
	return &Router{
		src:  src,
		data: make(map[string][]*dataSub),
	}
}

// SubscribeData registers fn for raw output chunks of one channel.
func (r *Router) SubscribeData(channelID string, fn DataFunc) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub := &dataSub{fn: fn}
	r.data[channelID] = append(r.data[channelID], sub)

	if r.cancelData == nil {
		r.cancelData = r.src.SetDataHook(r.dispatchData)
	}

	return &Subscription{cancel: func() { r.removeData(channelID, sub) }}
}

// SubscribeExit registers fn for exit events of all channels.
func (r *Router) SubscribeExit(fn ExitFunc) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub := &exitSub{fn: fn}
	r.exit = append(r.exit, sub)

	if r.cancelExit == nil {
		r.cancelExit = r.src.SetExitHook(r.dispatchExit)
	}

	return &Subscription{cancel: func() { r.removeExit(sub) }}
}

// Reset drops every subscription and detaches from the source. Only for
// defined restart points; never triggered implicitly.
func (r *Router) Reset() {
	r.mu.Lock()
	cancelData, cancelExit := r.cancelData, r.cancelExit
	r.cancelData, r.cancelExit = nil, nil
	r.data = make(map[string][]*dataSub)
	r.exit = nil
	r.mu.Unlock()

	if cancelData != nil {
		cancelData()
	}
	if cancelExit != nil {
		cancelExit()
	}
}

// SubscriberCount returns the number of data subscribers for a channel.
func (r *Router) SubscriberCount(channelID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data[channelID])
}

func (r *Router) removeData(channelID string, target *dataSub) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.data[channelID]
	for i, s := range subs {
		if s == target {
			r.data[channelID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(r.data[channelID]) == 0 {
		delete(r.data, channelID)
	}
}

func (r *Router) removeExit(target *exitSub) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, s := range r.exit {
		if s == target {
			r.exit = append(r.exit[:i], r.exit[i+1:]...)
			break
		}
	}
}

// dispatchData delivers one chunk to a snapshot of the channel's subscriber
// set. Subscribing or cancelling from inside a callback affects only
// subsequent dispatches.
func (r *Router) dispatchData(channelID string, chunk []byte) {
	r.mu.Lock()
	subs := r.data[channelID]
	snapshot := make([]*dataSub, len(subs))
	copy(snapshot, subs)
	r.mu.Unlock()

	for _, s := range snapshot {
		invokeData(s.fn, channelID, chunk)
	}

	logging.Aggregate(logging.CompRouter, "chunk_dispatched",
		slog.String("channel", channelID))
}

// dispatchExit removes the dead channel's entire data subscriber set, then
// forwards the exit to global exit subscribers.
func (r *Router) dispatchExit(channelID string, exitCode int) {
	r.mu.Lock()
	delete(r.data, channelID)
	snapshot := make([]*exitSub, len(r.exit))
	copy(snapshot, r.exit)
	r.mu.Unlock()

	routerLog.Debug("channel_exit",
		slog.String("channel", channelID),
		slog.Int("exit_code", exitCode))

	for _, s := range snapshot {
		invokeExit(s.fn, channelID, exitCode)
	}
}

// invokeData isolates one callback invocation: a panicking subscriber never
// blocks delivery to its siblings in the same pass.
func invokeData(fn DataFunc, channelID string, chunk []byte) {
	defer func() {
		if p := recover(); p != nil {
			routerLog.Error("data_subscriber_panic",
				slog.String("channel", channelID),
				slog.Any("panic", p))
		}
	}()
	fn(channelID, chunk)
}

func invokeExit(fn ExitFunc, channelID string, exitCode int) {
	defer func() {
		if p := recover(); p != nil {
			routerLog.Error("exit_subscriber_panic",
				slog.String("channel", channelID),
				slog.Any("panic", p))
		}
	}()
	fn(channelID, exitCode)
}
