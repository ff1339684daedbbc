package wshub

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cwatcher/cwatcher/internal/logging"
)

// heartbeatInterval/pongTimeout implement §4.9's heartbeat rule: every
// 30s, ping connections idle ≥30s; a connection with no pong for >60s is
// considered dead.
const (
	heartbeatInterval = 30 * time.Second
	pongTimeout       = 60 * time.Second
)

// broadcastQueueDepth bounds the single ordered broadcast queue (§4.9).
const broadcastQueueDepth = 4096

// BroadcastItem is one entry in the hub's ordered broadcast queue (§4.9).
type BroadcastItem struct {
	Message      Envelope
	TargetID     *int64
	MetricKind   *string
	AlertLevel   *string
	BroadcastAll bool
}

var upgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
	CheckOrigin:      func(r *http.Request) bool { return true },
}

// Hub is the WebSocket Hub component (C9).
type Hub struct {
	log logging.Logger

	mu           sync.RWMutex
	conns        map[string]*Connection
	reverseIndex map[int64]map[string]struct{} // target_id -> set<connection_id>

	broadcastCh chan BroadcastItem
	done        chan struct{}
	loopWg      sync.WaitGroup // deliveryLoop + heartbeatLoop
	connWg      sync.WaitGroup // per-connection read/write pumps
}

// New constructs a Hub. Run must be called to start its background loops.
func New(log logging.Logger) *Hub {
	if log == nil {
		log = logging.NewStderr()
	}
	return &Hub{
		log: log, conns: make(map[string]*Connection),
		reverseIndex: make(map[int64]map[string]struct{}),
		broadcastCh:  make(chan BroadcastItem, broadcastQueueDepth),
		done:         make(chan struct{}),
	}
}

// Run starts the delivery loop and heartbeat ticker; both exit when Stop
// is called.
func (h *Hub) Run() {
	h.loopWg.Add(2)
	go h.deliveryLoop()
	go h.heartbeatLoop()
}

// Stop halts the background loops, closes every connection, and waits for
// their read/write pumps to exit.
func (h *Hub) Stop() {
	close(h.done)
	h.loopWg.Wait()

	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		h.removeConnection(c.ID)
	}
	h.connWg.Wait()
}

// ConnectionCount reports the number of currently registered connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Upgrade accepts an incoming HTTP request as a new WebSocket connection,
// registers it, sends connection_info, and starts its read/write pumps.
func (h *Hub) Upgrade(w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	return h.adopt(conn, r.RemoteAddr, r.UserAgent())
}

// adopt is the Upgrade/test seam: registers an already-established
// *websocket.Conn as a hub connection.
func (h *Hub) adopt(conn *websocket.Conn, peerIP, userAgent string) error {
	id := uuid.NewString()
	c := newConnection(id, peerIP, userAgent, conn)

	h.mu.Lock()
	h.conns[id] = c
	h.mu.Unlock()

	c.setState(StateConnected)

	h.connWg.Add(1)
	go h.writePump(c)

	info, err := NewEnvelope(MsgConnectionInfo, ConnectionInfoPayload{ConnectionID: id, SupportedTypes: SupportedMessageTypes})
	if err == nil {
		c.enqueue(info)
	}

	h.connWg.Add(1)
	go h.readPump(c)

	return nil
}

func (h *Hub) writePump(c *Connection) {
	defer h.connWg.Done()
	for env := range c.send {
		if err := c.conn.WriteJSON(env); err != nil {
			h.log.Warnf("wshub: write to %s failed: %v", c.ID, err)
			h.removeConnection(c.ID)
			return
		}
	}
}

func (h *Hub) readPump(c *Connection) {
	defer h.connWg.Done()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			h.removeConnection(c.ID)
			return
		}
		h.handleIncoming(c, data)
	}
}

func (h *Hub) handleIncoming(c *Connection, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		h.replyError(c, "malformed message: "+err.Error())
		return
	}

	switch env.Type {
	case MsgPing:
		c.touchPing()
		pong, _ := NewEnvelope(MsgPong, nil)
		c.enqueue(pong)
		c.touchPong()
	case MsgPong:
		c.touchPong()
	case MsgSubscribe:
		h.handleSubscribe(c, env)
	case MsgUnsubscribe:
		h.handleUnsubscribe(c)
	default:
		h.replyError(c, "unsupported message type: "+string(env.Type))
	}
}

func (h *Hub) handleSubscribe(c *Connection, env Envelope) {
	var payload SubscribePayload
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			h.replyError(c, "malformed subscribe payload: "+err.Error())
			return
		}
	}

	filter := &SubscriptionFilter{
		TargetIDs: payload.TargetIDs, MetricKinds: payload.MetricKinds,
		AlertLevels: payload.AlertLevels, UpdateIntervalS: payload.UpdateIntervalS,
	}
	if !filter.validate() {
		ack, _ := NewEnvelope(MsgSubscriptionAck, SubscriptionAckPayload{Success: false, Reason: "update_interval_s must be in [10,300]"})
		c.enqueue(ack)
		return
	}

	c.setFilter(filter)
	h.indexConnection(c.ID, filter.TargetIDs)

	ack, _ := NewEnvelope(MsgSubscriptionAck, SubscriptionAckPayload{Success: true, Subscription: &payload})
	c.enqueue(ack)
}

func (h *Hub) handleUnsubscribe(c *Connection) {
	c.setFilter(nil)
	h.unindexConnection(c.ID)
	ack, _ := NewEnvelope(MsgSubscriptionAck, SubscriptionAckPayload{Success: true, Subscription: nil})
	c.enqueue(ack)
}

func (h *Hub) replyError(c *Connection, reason string) {
	env, err := NewEnvelope(MsgError, ErrorPayload{Reason: reason})
	if err != nil {
		return
	}
	c.enqueue(env)
}

func (h *Hub) indexConnection(connID string, targetIDs []int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.reverseIndex {
		delete(set, connID)
	}
	for _, tid := range targetIDs {
		set, ok := h.reverseIndex[tid]
		if !ok {
			set = make(map[string]struct{})
			h.reverseIndex[tid] = set
		}
		set[connID] = struct{}{}
	}
}

func (h *Hub) unindexConnection(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.reverseIndex {
		delete(set, connID)
	}
}

func (h *Hub) removeConnection(id string) {
	h.mu.Lock()
	c, ok := h.conns[id]
	if ok {
		delete(h.conns, id)
	}
	for _, set := range h.reverseIndex {
		delete(set, id)
	}
	h.mu.Unlock()

	if !ok {
		return
	}
	c.setState(StateDisconnected)
	close(c.send)
	_ = c.conn.Close()
}

// Broadcast enqueues item on the hub's single ordered delivery queue
// (§4.9). A full queue drops the item rather than block the caller —
// the queue depth (4096) is sized to absorb any realistic burst from
// C10's per-target push cycles.
func (h *Hub) Broadcast(item BroadcastItem) bool {
	select {
	case h.broadcastCh <- item:
		return true
	default:
		h.log.Warnf("wshub: broadcast queue full, dropping message_id=%s", item.Message.MessageID)
		return false
	}
}

func (h *Hub) deliveryLoop() {
	defer h.loopWg.Done()
	for {
		select {
		case <-h.done:
			return
		case item := <-h.broadcastCh:
			h.deliver(item)
		}
	}
}

func (h *Hub) deliver(item BroadcastItem) {
	var metricKind, alertLevel string
	if item.MetricKind != nil {
		metricKind = *item.MetricKind
	}
	if item.AlertLevel != nil {
		alertLevel = *item.AlertLevel
	}

	h.mu.RLock()
	var targets []*Connection
	if item.BroadcastAll {
		for _, c := range h.conns {
			targets = append(targets, c)
		}
	} else if item.TargetID != nil {
		for connID := range h.reverseIndex[*item.TargetID] {
			if c, ok := h.conns[connID]; ok {
				targets = append(targets, c)
			}
		}
	}
	h.mu.RUnlock()

	targetID := int64(0)
	if item.TargetID != nil {
		targetID = *item.TargetID
	}
	for _, c := range targets {
		// broadcast_all is for server-wide events (server_online/offline)
		// and always bypasses per-(target,kind,level) filtering; anything
		// else must match the connection's subscription.
		if !item.BroadcastAll && !c.Filter().matches(targetID, metricKind, alertLevel) {
			continue
		}
		if !c.enqueue(item.Message) {
			h.log.Warnf("wshub: send queue full for %s, dropping connection", c.ID)
			h.removeConnection(c.ID)
		}
	}
}

func (h *Hub) heartbeatLoop() {
	defer h.loopWg.Done()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.sweepConnections()
		}
	}
}

func (h *Hub) sweepConnections() {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	now := time.Now()
	for _, c := range conns {
		lastPing, lastPong := c.idleSince()
		if now.Sub(lastPong) > pongTimeout {
			h.removeConnection(c.ID)
			continue
		}
		if now.Sub(lastPing) >= heartbeatInterval {
			hb, err := NewEnvelope(MsgHeartbeat, nil)
			if err == nil {
				c.enqueue(hb)
			}
		}
	}
}
