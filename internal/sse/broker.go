// Package sse implements a Server-Sent Events feed of contents changes.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// Contents change kinds.
const (
	KindCreated  = "created"
	KindSaved    = "saved"
	KindRenamed  = "renamed"
	KindDeleted  = "deleted"
	KindRestored = "restored"
)

const (
	defaultHistory   = 256
	defaultHeartbeat = 15 * time.Second
	clientBuffer     = 64
)

// Change describes one contents or checkpoint change.
type Change struct {
	Kind string `json:"-"`
	Path string `json:"path"`
	// From is the previous path of a renamed entry.
	From string `json:"from,omitempty"`
	// Checkpoint is set for checkpoint changes.
	Checkpoint string `json:"checkpoint_id,omitempty"`
}

func (c Change) eventType() string {
	if c.Checkpoint != "" {
		return "checkpoint." + c.Kind
	}
	return "contents." + c.Kind
}

// changesTree reports whether c adds, removes or moves an entry.
func (c Change) changesTree() bool {
	return c.Checkpoint == "" && c.Kind != KindSaved
}

// Filter selects the events a subscriber receives.
type Filter struct {
	// Prefix limits change events to entries at or under this directory.
	// tree.updated is always delivered.
	Prefix string
	// After replays retained events with a larger id before live ones.
	After uint64
}

func (f Filter) match(fr frame) bool {
	if f.Prefix == "" || len(fr.paths) == 0 {
		return true
	}
	for _, p := range fr.paths {
		if p == f.Prefix || strings.HasPrefix(p, f.Prefix+"/") {
			return true
		}
	}
	return false
}

// frame is an encoded event plus the paths it concerns.
type frame struct {
	id    uint64
	paths []string
	raw   []byte
}

type subscription struct {
	ch     chan []byte
	filter Filter
}

// Option configures a Broker.
type Option func(*Broker)

// WithHistory sets how many past events are kept for Last-Event-ID replay.
func WithHistory(n int) Option {
	return func(b *Broker) { b.history = n }
}

// WithHeartbeat sets the interval of keep-alive comments on open streams.
func WithHeartbeat(d time.Duration) Option {
	return func(b *Broker) { b.heartbeat = d }
}

// Broker fans contents changes out to SSE clients.
//
// A single event loop owns the clients, the replay history and the tree
// throttle timestamp. Public methods talk to it over channels.
type Broker struct {
	treeMin   time.Duration
	history   int
	heartbeat time.Duration

	subscribeCh   chan subscription
	unsubscribeCh chan chan []byte
	changeCh      chan Change
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker that emits tree.updated at most once per
// treeThrottle.
func NewBroker(treeThrottle time.Duration, opts ...Option) *Broker {
	if treeThrottle <= 0 {
		treeThrottle = 2 * time.Second
	}

	b := &Broker{
		treeMin:       treeThrottle,
		history:       defaultHistory,
		heartbeat:     defaultHeartbeat,
		subscribeCh:   make(chan subscription),
		unsubscribeCh: make(chan chan []byte),
		changeCh:      make(chan Change, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]Filter)
	var (
		seq      uint64
		lastTree time.Time
		retained []frame
	)

	emit := func(typ string, data any, paths ...string) {
		payload, err := json.Marshal(data)
		if err != nil {
			return
		}
		seq++
		fr := frame{
			id:    seq,
			paths: paths,
			raw:   fmt.Appendf(nil, "id: %d\nevent: %s\ndata: %s\n\n", seq, typ, payload),
		}
		if b.history > 0 {
			retained = append(retained, fr)
			if len(retained) > b.history {
				retained = retained[len(retained)-b.history:]
			}
		}
		for ch, f := range clients {
			if !f.match(fr) {
				continue
			}
			select {
			case ch <- fr.raw:
			default:
				// Client buffer full; skip to avoid blocking the loop.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case sub := <-b.subscribeCh:
			clients[sub.ch] = sub.filter
			if sub.filter.After == 0 {
				continue
			}
			for _, fr := range retained {
				if fr.id <= sub.filter.After || !sub.filter.match(fr) {
					continue
				}
				select {
				case sub.ch <- fr.raw:
				default:
				}
			}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case c := <-b.changeCh:
			paths := []string{c.Path}
			if c.From != "" {
				paths = append(paths, c.From)
			}
			emit(c.eventType(), c, paths...)

			if !c.changesTree() {
				continue
			}
			now := time.Now()
			if now.Sub(lastTree) >= b.treeMin {
				lastTree = now
				emit("tree.updated", map[string]string{})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel.
func (b *Broker) Subscribe(f Filter) chan []byte {
	ch := make(chan []byte, clientBuffer)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- subscription{ch: ch, filter: f}:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// PublishChange broadcasts a contents or checkpoint change. Changes that
// alter the tree are followed by a throttled tree.updated event.
func (b *Broker) PublishChange(c Change) {
	if b.closed.Load() {
		return
	}
	select {
	case b.changeCh <- c:
	case <-b.stopped:
	}
}

// Notify publishes a contents change of kind at path.
func (b *Broker) Notify(kind, path string) {
	b.PublishChange(Change{Kind: kind, Path: path})
}

// filterFrom reads the stream filter from the request: the path query
// parameter and the Last-Event-ID header (or lastEventId parameter).
func filterFrom(r *http.Request) Filter {
	q := r.URL.Query()
	f := Filter{Prefix: strings.Trim(q.Get("path"), "/")}
	last := r.Header.Get("Last-Event-ID")
	if last == "" {
		last = q.Get("lastEventId")
	}
	if id, err := strconv.ParseUint(last, 10, 64); err == nil {
		f.After = id
	}
	return f
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe(filterFrom(r))
	defer b.Unsubscribe(ch)

	var beat <-chan time.Time
	if b.heartbeat > 0 {
		ticker := time.NewTicker(b.heartbeat)
		defer ticker.Stop()
		beat = ticker.C
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-beat:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
