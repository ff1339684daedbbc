package wshub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ConnState is a Connection's lifecycle state (§4.9).
type ConnState string

const (
	StateConnecting    ConnState = "connecting"
	StateConnected     ConnState = "connected"
	StateDisconnecting ConnState = "disconnecting"
	StateDisconnected  ConnState = "disconnected"
)

// minUpdateIntervalS/maxUpdateIntervalS bound SubscriptionFilter.UpdateIntervalS
// (§4.9).
const (
	minUpdateIntervalS = 10
	maxUpdateIntervalS = 300
)

// SubscriptionFilter narrows which broadcasts a connection receives
// (§4.9). A nil/empty slice field means "match any" for that dimension.
type SubscriptionFilter struct {
	TargetIDs       []int64
	MetricKinds     []string
	AlertLevels     []string
	UpdateIntervalS int
}

func (f *SubscriptionFilter) validate() bool {
	if f == nil {
		return true
	}
	if f.UpdateIntervalS == 0 {
		f.UpdateIntervalS = minUpdateIntervalS
		return true
	}
	return f.UpdateIntervalS >= minUpdateIntervalS && f.UpdateIntervalS <= maxUpdateIntervalS
}

func (f *SubscriptionFilter) matches(targetID int64, metricKind, alertLevel string) bool {
	if f == nil {
		return true
	}
	if len(f.TargetIDs) > 0 && !containsInt64(f.TargetIDs, targetID) {
		return false
	}
	if len(f.MetricKinds) > 0 && metricKind != "" && !containsString(f.MetricKinds, metricKind) {
		return false
	}
	if len(f.AlertLevels) > 0 && alertLevel != "" && !containsString(f.AlertLevels, alertLevel) {
		return false
	}
	return true
}

func containsInt64(xs []int64, v int64) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func containsString(xs []string, v string) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

// sendQueueDepth bounds each connection's outbound buffer; a connection
// too slow to drain it is dropped rather than let the hub's delivery loop
// block on one peer (§4.9's "send failures drop the connection").
const sendQueueDepth = 64

// Connection is one accepted WebSocket client (§4.9).
type Connection struct {
	ID       string
	PeerIP   string
	UserAgent string

	conn *websocket.Conn
	send chan Envelope

	mu        sync.Mutex
	state     ConnState
	lastPing  time.Time
	lastPong  time.Time
	filter    *SubscriptionFilter
	sentCount int64
	recvCount int64
}

func newConnection(id, peerIP, userAgent string, conn *websocket.Conn) *Connection {
	now := time.Now()
	return &Connection{
		ID: id, PeerIP: peerIP, UserAgent: userAgent,
		conn: conn, send: make(chan Envelope, sendQueueDepth),
		state: StateConnecting, lastPing: now, lastPong: now,
	}
}

func (c *Connection) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setFilter(f *SubscriptionFilter) {
	c.mu.Lock()
	c.filter = f
	c.mu.Unlock()
}

func (c *Connection) Filter() *SubscriptionFilter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter
}

func (c *Connection) touchPing() {
	c.mu.Lock()
	c.lastPing = time.Now()
	c.mu.Unlock()
}

func (c *Connection) touchPong() {
	c.mu.Lock()
	c.lastPong = time.Now()
	c.mu.Unlock()
}

func (c *Connection) idleSince() (ping, pong time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPing, c.lastPong
}

// enqueue attempts a non-blocking send; a full queue means the peer isn't
// draining and is reported back to the caller so the hub can drop it.
func (c *Connection) enqueue(env Envelope) bool {
	select {
	case c.send <- env:
		return true
	default:
		return false
	}
}
