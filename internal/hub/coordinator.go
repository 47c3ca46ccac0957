package hub

import (
	"log"
	"time"

	"golang.org/x/time/rate"

	"github.com/jengzang/inkmap-backend-go/internal/models"
)

// seenCap bounds the in-memory dedup set of accepted stroke ids
const seenCap = 4096

type msgKind int

const (
	msgJoin msgKind = iota
	msgLeave
	msgEvent
	msgStop
)

type coordMsg struct {
	kind  msgKind
	sub   *Subscriber
	event models.CanvasEvent
	reply chan error // join / event admission result
}

// Coordinator is the single serialization point for one tile. All state
// below inbox is owned by the run goroutine; concurrent requests are
// queued on the mailbox and processed one at a time, so sequence
// assignment and rate accounting never race.
type Coordinator struct {
	key   string
	opts  Options
	store Store

	inbox chan coordMsg
	done  chan struct{}

	// Actor-owned state, untouched outside run()
	subscribers  map[*Subscriber]struct{}
	seq          uint64
	userLimiters map[string]*rate.Limiter
	tileLimiter  *rate.Limiter
	pending      []models.CanvasEvent
	flushRetries int
	seen         map[string]struct{}
	seenOrder    []string

	onIdle func(key string) // Registry callback when the tile goes quiet
}

func newCoordinator(key string, store Store, opts Options, onIdle func(string)) *Coordinator {
	c := &Coordinator{
		key:          key,
		opts:         opts,
		store:        store,
		inbox:        make(chan coordMsg, 256),
		done:         make(chan struct{}),
		subscribers:  make(map[*Subscriber]struct{}),
		userLimiters: make(map[string]*rate.Limiter),
		tileLimiter:  opts.tileLimiter(),
		seen:         make(map[string]struct{}),
		onIdle:       onIdle,
	}
	go c.run()
	return c
}

// Key returns the tile key this coordinator serializes
func (c *Coordinator) Key() string { return c.key }

// Join subscribes a connection, or rejects with ErrTileFull / ErrStopped
func (c *Coordinator) Join(sub *Subscriber) error {
	reply := make(chan error, 1)
	select {
	case c.inbox <- coordMsg{kind: msgJoin, sub: sub, reply: reply}:
		return <-reply
	case <-c.done:
		return ErrStopped
	}
}

// Leave unsubscribes a connection
func (c *Coordinator) Leave(sub *Subscriber) {
	select {
	case c.inbox <- coordMsg{kind: msgLeave, sub: sub}:
	case <-c.done:
	}
}

// Submit offers an event for admission. The returned error is the
// admission verdict; admitted events are ordered, broadcast, and (when
// persistable) buffered for the next flush.
func (c *Coordinator) Submit(sub *Subscriber, ev models.CanvasEvent) error {
	reply := make(chan error, 1)
	select {
	case c.inbox <- coordMsg{kind: msgEvent, sub: sub, event: ev, reply: reply}:
		return <-reply
	case <-c.done:
		return ErrStopped
	}
}

// Stop flushes pending events and terminates the actor
func (c *Coordinator) Stop() {
	select {
	case c.inbox <- coordMsg{kind: msgStop}:
		<-c.done
	case <-c.done:
	}
}

func (c *Coordinator) run() {
	flushTicker := time.NewTicker(c.opts.FlushInterval)
	evictTicker := time.NewTicker(c.opts.IdleTimeout / 3)
	defer flushTicker.Stop()
	defer evictTicker.Stop()

	for {
		select {
		case msg := <-c.inbox:
			switch msg.kind {
			case msgJoin:
				msg.reply <- c.handleJoin(msg.sub)
			case msgLeave:
				c.handleLeave(msg.sub)
			case msgEvent:
				msg.reply <- c.handleEvent(msg.sub, msg.event)
			case msgStop:
				c.shutdown()
				return
			}

		case <-flushTicker.C:
			c.flush()

		case <-evictTicker.C:
			c.evictIdle()
			// A quiet tile releases its actor; the registry will
			// recreate one on the next join.
			if len(c.subscribers) == 0 && len(c.pending) == 0 {
				c.shutdown()
				return
			}
		}
	}
}

func (c *Coordinator) handleJoin(sub *Subscriber) error {
	if len(c.subscribers) >= c.opts.MaxSubscribers {
		return ErrTileFull
	}
	c.subscribers[sub] = struct{}{}
	if _, ok := c.userLimiters[sub.userID]; !ok {
		c.userLimiters[sub.userID] = c.opts.userLimiter()
	}
	sub.touch()
	log.Printf("[hub %s] subscriber joined (user=%s, total=%d)", c.key, sub.userID, len(c.subscribers))

	sub.enqueue(Frame{Type: FrameWelcome, TileKey: c.key, Seq: c.seq})
	return nil
}

func (c *Coordinator) handleLeave(sub *Subscriber) {
	if _, ok := c.subscribers[sub]; !ok {
		return
	}
	delete(c.subscribers, sub)
	sub.closeSend()
	log.Printf("[hub %s] subscriber left (user=%s, total=%d)", c.key, sub.userID, len(c.subscribers))

	// Drop limiters for users with no remaining connection
	if !c.userPresent(sub.userID) {
		delete(c.userLimiters, sub.userID)
	}
}

func (c *Coordinator) handleEvent(sub *Subscriber, ev models.CanvasEvent) error {
	if !ev.Valid() {
		// Malformed events are dropped, logged, never broadcast —
		// and deliberately not reported back as a protocol error.
		log.Printf("[hub %s] dropped malformed event type=%q from user=%s", c.key, ev.Type, sub.userID)
		return nil
	}

	// Admission control: both limiters must pass; over-limit events are
	// rejected outright, never queued. Cursor moves share the budget but
	// skip durability below.
	userLim, ok := c.userLimiters[sub.userID]
	if !ok {
		userLim = c.opts.userLimiter()
		c.userLimiters[sub.userID] = userLim
	}
	if !userLim.Allow() || !c.tileLimiter.Allow() {
		return ErrRateLimited
	}

	// Offline replay may resend strokes this tile already accepted;
	// duplicates are acknowledged as no-ops. An admitted delete frees the
	// id again: a redo after undo re-sends the same stroke id, and that
	// re-add is a real event, not a replay duplicate.
	switch ev.Type {
	case models.EventStrokeAdd:
		if _, dup := c.seen[ev.Stroke.ID]; dup {
			return nil
		}
		c.remember(ev.Stroke.ID)
	case models.EventStrokeDelete:
		c.forget(ev.StrokeID)
	}

	// Identity comes from the authenticated connection, not the payload
	ev.UserID = sub.userID
	ev.Username = sub.username
	ev.TileKey = c.key
	if ev.Stroke != nil {
		ev.Stroke.UserID = sub.userID
		ev.Stroke.Username = sub.username
		// Client-supplied bounds are never trusted
		ev.Stroke.ComputeBounds()
	}

	c.seq++
	ev.Seq = c.seq

	c.broadcast(ev)

	if ev.Persistable() {
		c.pending = append(c.pending, ev)
		if len(c.pending) >= c.opts.FlushBatchSize {
			c.flush()
		}
	}
	return nil
}

// broadcast fans the ordered event out to every subscriber. A subscriber
// whose send buffer is full cannot keep up and is dropped rather than
// allowed to stall the tile.
func (c *Coordinator) broadcast(ev models.CanvasEvent) {
	frame := Frame{Type: FrameEvent, Event: &ev}
	for sub := range c.subscribers {
		if !sub.enqueue(frame) {
			delete(c.subscribers, sub)
			sub.closeSend()
			log.Printf("[hub %s] dropped slow subscriber (user=%s)", c.key, sub.userID)
		}
	}
}

// flush writes buffered events to the store in one batch. On failure the
// batch is kept for retry; when retries exhaust it is abandoned so live
// collaboration continues with degraded durability.
func (c *Coordinator) flush() {
	if len(c.pending) == 0 {
		return
	}

	// Adds go first as one batch, deletes/updates follow individually, so
	// within one batch the last add/delete per stroke id must win: an
	// undo→redo cycle between flushes deletes and re-adds the same id.
	last := make(map[string]string)
	for _, ev := range c.pending {
		switch ev.Type {
		case models.EventStrokeAdd:
			last[ev.Stroke.ID] = models.EventStrokeAdd
		case models.EventStrokeDelete:
			last[ev.StrokeID] = models.EventStrokeDelete
		}
	}

	var adds []models.Stroke
	addPos := make(map[string]int)
	for _, ev := range c.pending {
		if ev.Type != models.EventStrokeAdd || last[ev.Stroke.ID] != models.EventStrokeAdd {
			continue
		}
		if i, ok := addPos[ev.Stroke.ID]; ok {
			adds[i] = *ev.Stroke
			continue
		}
		addPos[ev.Stroke.ID] = len(adds)
		adds = append(adds, *ev.Stroke)
	}

	if err := c.persist(adds); err != nil {
		c.flushRetries++
		if c.flushRetries > c.opts.MaxFlushRetries {
			log.Printf("[hub %s] persistence retries exhausted, dropping %d events", c.key, len(c.pending))
			c.pending = nil
			c.flushRetries = 0
			return
		}
		log.Printf("[hub %s] persistence failed (attempt %d/%d): %v", c.key, c.flushRetries, c.opts.MaxFlushRetries, err)
		return
	}

	// Deletes and updates are author-scoped individual statements;
	// failures here affect single rows and are logged, not retried.
	for _, ev := range c.pending {
		switch ev.Type {
		case models.EventStrokeDelete:
			if last[ev.StrokeID] == models.EventStrokeAdd {
				// Re-added later in this batch; the row must survive
				continue
			}
			if _, err := c.store.DeleteByAuthor(ev.StrokeID, ev.UserID); err != nil {
				log.Printf("[hub %s] delete %s failed: %v", c.key, ev.StrokeID, err)
			}
		case models.EventStrokeUpdate:
			if _, err := c.store.UpdatePatch(ev.StrokeID, ev.UserID, ev.Patch); err != nil {
				log.Printf("[hub %s] update %s failed: %v", c.key, ev.StrokeID, err)
			}
		}
	}

	c.pending = nil
	c.flushRetries = 0
}

func (c *Coordinator) persist(adds []models.Stroke) error {
	if len(adds) == 0 {
		return nil
	}
	_, err := c.store.BatchInsert(adds)
	return err
}

func (c *Coordinator) evictIdle() {
	cutoff := time.Now().Add(-c.opts.IdleTimeout).UnixMilli()
	for sub := range c.subscribers {
		if sub.lastActive.Load() < cutoff {
			delete(c.subscribers, sub)
			sub.closeSend()
			log.Printf("[hub %s] evicted idle subscriber (user=%s)", c.key, sub.userID)
		}
	}
}

func (c *Coordinator) shutdown() {
	c.flush()
	for sub := range c.subscribers {
		sub.closeSend()
	}
	c.subscribers = make(map[*Subscriber]struct{})
	close(c.done)
	if c.onIdle != nil {
		c.onIdle(c.key)
	}
}

func (c *Coordinator) userPresent(userID string) bool {
	for sub := range c.subscribers {
		if sub.userID == userID {
			return true
		}
	}
	return false
}

func (c *Coordinator) remember(id string) {
	if len(c.seenOrder) >= seenCap {
		oldest := c.seenOrder[0]
		c.seenOrder = c.seenOrder[1:]
		delete(c.seen, oldest)
	}
	c.seen[id] = struct{}{}
	c.seenOrder = append(c.seenOrder, id)
}

func (c *Coordinator) forget(id string) {
	if _, ok := c.seen[id]; !ok {
		return
	}
	delete(c.seen, id)
	for i, v := range c.seenOrder {
		if v == id {
			c.seenOrder = append(c.seenOrder[:i], c.seenOrder[i+1:]...)
			break
		}
	}
}
