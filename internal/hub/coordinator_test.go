package hub

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jengzang/inkmap-backend-go/internal/models"
)

// fakeStore records flushed batches and can be switched to fail
type fakeStore struct {
	mu       sync.Mutex
	inserted []models.Stroke
	deleted  []string
	updated  []string
	fail     bool
}

func (f *fakeStore) BatchInsert(strokes []models.Stroke) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return 0, errors.New("store unavailable")
	}
	f.inserted = append(f.inserted, strokes...)
	return int64(len(strokes)), nil
}

func (f *fakeStore) DeleteByAuthor(id, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id+"/"+userID)
	return 1, nil
}

func (f *fakeStore) UpdatePatch(id, userID string, patch *models.StrokePatch) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, id+"/"+userID)
	return 1, nil
}

func (f *fakeStore) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *fakeStore) insertedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, s := range f.inserted {
		ids = append(ids, s.ID)
	}
	return ids
}

// testOptions: generous limits and timers that stay out of the way
func testOptions() Options {
	o := DefaultOptions()
	o.UserEventsPerSec = 1000
	o.UserBurst = 1000
	o.TileEventsPerSec = 10000
	o.TileBurst = 10000
	return o
}

func testSub(userID string) *Subscriber {
	return &Subscriber{
		id:       subscriberID.Add(1),
		userID:   userID,
		username: "user-" + userID,
		send:     make(chan Frame, 256),
	}
}

func addEvent(strokeID string) models.CanvasEvent {
	return models.CanvasEvent{
		Type: models.EventStrokeAdd,
		Stroke: &models.Stroke{
			ID:     strokeID,
			Points: []models.StrokePoint{{Lat: 10, Lng: 10}, {Lat: 10.01, Lng: 10.01}},
		},
	}
}

// recvFrame pulls the next frame or fails the test
func recvFrame(t *testing.T, sub *Subscriber) Frame {
	t.Helper()
	select {
	case f, ok := <-sub.send:
		if !ok {
			t.Fatal("send channel closed")
		}
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return Frame{}
}

func TestJoinWelcomeAndSequencedBroadcast(t *testing.T) {
	c := newCoordinator("L12_100_200", &fakeStore{}, testOptions(), nil)
	defer c.Stop()

	a, b := testSub("u1"), testSub("u2")
	if err := c.Join(a); err != nil {
		t.Fatalf("Join a: %v", err)
	}
	if err := c.Join(b); err != nil {
		t.Fatalf("Join b: %v", err)
	}

	w := recvFrame(t, a)
	if w.Type != FrameWelcome || w.TileKey != "L12_100_200" || w.Seq != 0 {
		t.Fatalf("welcome = %+v", w)
	}
	recvFrame(t, b)

	for i := 0; i < 3; i++ {
		if err := c.Submit(a, addEvent(fmt.Sprintf("s-%d", i))); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}

	// Both subscribers, including the sender, see the same total order
	for _, sub := range []*Subscriber{a, b} {
		for i := 0; i < 3; i++ {
			f := recvFrame(t, sub)
			if f.Type != FrameEvent {
				t.Fatalf("frame type = %s, want event", f.Type)
			}
			if f.Event.Seq != uint64(i+1) {
				t.Errorf("user %s event %d: seq = %d, want %d", sub.userID, i, f.Event.Seq, i+1)
			}
			if f.Event.TileKey != "L12_100_200" {
				t.Errorf("event tile key = %s", f.Event.TileKey)
			}
		}
	}
}

func TestJoinRejectedAtSubscriberCap(t *testing.T) {
	opts := testOptions()
	opts.MaxSubscribers = 2

	c := newCoordinator("L12_0_0", &fakeStore{}, opts, nil)
	defer c.Stop()

	if err := c.Join(testSub("u1")); err != nil {
		t.Fatalf("Join 1: %v", err)
	}
	if err := c.Join(testSub("u2")); err != nil {
		t.Fatalf("Join 2: %v", err)
	}
	if err := c.Join(testSub("u3")); !errors.Is(err, ErrTileFull) {
		t.Errorf("Join over cap = %v, want ErrTileFull", err)
	}
}

func TestPerUserRateLimitRejects(t *testing.T) {
	opts := testOptions()
	opts.UserEventsPerSec = 1
	opts.UserBurst = 2

	c := newCoordinator("L12_0_0", &fakeStore{}, opts, nil)
	defer c.Stop()

	a, b := testSub("u1"), testSub("u2")
	c.Join(a)
	c.Join(b)

	// Burst of 2 passes, the third is rejected outright
	for i := 0; i < 2; i++ {
		if err := c.Submit(a, addEvent(fmt.Sprintf("a-%d", i))); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}
	if err := c.Submit(a, addEvent("a-over")); !errors.Is(err, ErrRateLimited) {
		t.Errorf("over-budget submit = %v, want ErrRateLimited", err)
	}

	// Another user has an independent budget
	if err := c.Submit(b, addEvent("b-0")); err != nil {
		t.Errorf("other user rejected: %v", err)
	}
}

func TestDuplicateStrokeAddIsNoOp(t *testing.T) {
	store := &fakeStore{}
	opts := testOptions()
	opts.FlushBatchSize = 1 // Flush on every persistable event

	c := newCoordinator("L12_0_0", store, opts, nil)
	defer c.Stop()

	a := testSub("u1")
	c.Join(a)
	recvFrame(t, a) // welcome

	if err := c.Submit(a, addEvent("dup-1")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	// Offline replay resends the same stroke: acknowledged, not re-applied
	if err := c.Submit(a, addEvent("dup-1")); err != nil {
		t.Fatalf("duplicate Submit: %v", err)
	}
	if err := c.Submit(a, addEvent("dup-2")); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	first := recvFrame(t, a)
	second := recvFrame(t, a)
	if first.Event.Stroke.ID != "dup-1" || second.Event.Stroke.ID != "dup-2" {
		t.Errorf("broadcasts = %s, %s; duplicate should not rebroadcast", first.Event.Stroke.ID, second.Event.Stroke.ID)
	}
	if second.Event.Seq != 2 {
		t.Errorf("second seq = %d, want 2 (duplicate consumed no sequence)", second.Event.Seq)
	}

	if ids := store.insertedIDs(); len(ids) != 2 {
		t.Errorf("store holds %v, want exactly [dup-1 dup-2]", ids)
	}
}

func TestCursorMoveBroadcastNotPersisted(t *testing.T) {
	store := &fakeStore{}
	opts := testOptions()
	opts.FlushBatchSize = 1

	c := newCoordinator("L12_0_0", store, opts, nil)

	a := testSub("u1")
	c.Join(a)
	recvFrame(t, a)

	ev := models.CanvasEvent{Type: models.EventCursorMove, Cursor: &models.CursorPos{Lat: 10, Lng: 10}}
	if err := c.Submit(a, ev); err != nil {
		t.Fatalf("Submit cursor: %v", err)
	}

	f := recvFrame(t, a)
	if f.Event.Type != models.EventCursorMove {
		t.Fatalf("frame = %+v, want a cursor broadcast", f)
	}

	c.Stop() // Final flush
	if ids := store.insertedIDs(); len(ids) != 0 {
		t.Errorf("cursor movement reached the store: %v", ids)
	}
}

func TestMalformedEventDroppedSilently(t *testing.T) {
	c := newCoordinator("L12_0_0", &fakeStore{}, testOptions(), nil)
	defer c.Stop()

	a := testSub("u1")
	c.Join(a)
	recvFrame(t, a)

	bad := []models.CanvasEvent{
		{Type: "unknown-type"},
		{Type: models.EventStrokeAdd},                // No stroke payload
		{Type: models.EventStrokeDelete},             // No stroke id
		{Type: models.EventStrokeAdd, Stroke: &models.Stroke{ID: "x"}}, // No points
	}
	for _, ev := range bad {
		if err := c.Submit(a, ev); err != nil {
			t.Errorf("malformed event %q returned %v, want silent drop", ev.Type, err)
		}
	}

	// Nothing was broadcast
	select {
	case f := <-a.send:
		t.Errorf("malformed event was broadcast: %+v", f)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestIdentityAndBoundsOverridden(t *testing.T) {
	c := newCoordinator("L12_0_0", &fakeStore{}, testOptions(), nil)
	defer c.Stop()

	a := testSub("u1")
	c.Join(a)
	recvFrame(t, a)

	ev := addEvent("s-1")
	ev.UserID = "somebody-else"
	ev.Stroke.UserID = "somebody-else"
	ev.Stroke.MinLat, ev.Stroke.MaxLat = -80, 80 // Bogus client bounds
	if err := c.Submit(a, ev); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	f := recvFrame(t, a)
	if f.Event.UserID != "u1" || f.Event.Stroke.UserID != "u1" {
		t.Errorf("claimed identity survived: event user=%s stroke user=%s", f.Event.UserID, f.Event.Stroke.UserID)
	}
	if f.Event.Stroke.MinLat != 10 || f.Event.Stroke.MaxLat != 10.01 {
		t.Errorf("client bounds survived: [%v, %v]", f.Event.Stroke.MinLat, f.Event.Stroke.MaxLat)
	}
}

func TestFlushRetriesExhaustThenRecover(t *testing.T) {
	store := &fakeStore{fail: true}
	opts := testOptions()
	opts.FlushBatchSize = 1
	opts.MaxFlushRetries = 3
	opts.FlushInterval = time.Hour // Only size-triggered flushes below

	c := newCoordinator("L12_0_0", store, opts, nil)
	defer c.Stop()

	a := testSub("u1")
	c.Join(a)

	// Each submit triggers a failing flush; the fourth failure abandons
	// the batch. Live collaboration never stops.
	for i := 0; i < 4; i++ {
		if err := c.Submit(a, addEvent(fmt.Sprintf("lost-%d", i))); err != nil {
			t.Fatalf("Submit %d during outage: %v", i, err)
		}
	}

	store.setFail(false)
	if err := c.Submit(a, addEvent("kept")); err != nil {
		t.Fatalf("Submit after recovery: %v", err)
	}

	ids := store.insertedIDs()
	if len(ids) != 1 || ids[0] != "kept" {
		t.Errorf("store holds %v, want only the post-recovery stroke", ids)
	}
}

func TestStopFlushesPending(t *testing.T) {
	store := &fakeStore{}
	opts := testOptions() // Default batch size 64: nothing flushes early

	c := newCoordinator("L12_0_0", store, opts, nil)

	a := testSub("u1")
	c.Join(a)
	c.Submit(a, addEvent("s-1"))
	c.Submit(a, models.CanvasEvent{Type: models.EventStrokeDelete, StrokeID: "s-0"})

	c.Stop()

	if ids := store.insertedIDs(); len(ids) != 1 || ids[0] != "s-1" {
		t.Errorf("stop did not flush adds: %v", ids)
	}
	store.mu.Lock()
	deleted := append([]string(nil), store.deleted...)
	store.mu.Unlock()
	if len(deleted) != 1 || deleted[0] != "s-0/u1" {
		t.Errorf("stop did not flush deletes: %v", deleted)
	}
}

func TestSlowSubscriberDropped(t *testing.T) {
	c := newCoordinator("L12_0_0", &fakeStore{}, testOptions(), nil)
	defer c.Stop()

	fast := testSub("u1")
	slow := testSub("u2")
	slow.send = make(chan Frame, 1) // Welcome frame fills it

	c.Join(fast)
	c.Join(slow)
	recvFrame(t, fast)

	if err := c.Submit(fast, addEvent("s-1")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	recvFrame(t, fast)

	// The slow subscriber's channel was closed on removal: after the
	// buffered welcome, the next receive reports closure.
	<-slow.send
	select {
	case _, ok := <-slow.send:
		if ok {
			t.Error("slow subscriber still receiving after drop")
		}
	case <-time.After(2 * time.Second):
		t.Error("slow subscriber was not dropped")
	}
}

func TestIdleCoordinatorSelfStops(t *testing.T) {
	opts := testOptions()
	opts.IdleTimeout = 30 * time.Millisecond

	released := make(chan string, 1)
	c := newCoordinator("L12_0_0", &fakeStore{}, opts, func(key string) {
		released <- key
	})

	select {
	case key := <-released:
		if key != "L12_0_0" {
			t.Errorf("released key = %s", key)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("quiet coordinator never self-stopped")
	}

	if err := c.Join(testSub("u1")); !errors.Is(err, ErrStopped) {
		t.Errorf("Join after stop = %v, want ErrStopped", err)
	}
}

func TestReAddAfterDeleteIsNotADuplicate(t *testing.T) {
	// Redo after undo re-sends the same stroke id: add, delete, add. The
	// re-add is a real event and must be broadcast and persisted, while an
	// offline-replay duplicate of a live stroke stays a no-op.
	store := &fakeStore{}
	c := newCoordinator("L12_0_0", store, testOptions(), nil)

	a := testSub("u1")
	c.Join(a)
	recvFrame(t, a) // welcome

	if err := c.Submit(a, addEvent("s1")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := c.Submit(a, models.CanvasEvent{Type: models.EventStrokeDelete, StrokeID: "s1"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := c.Submit(a, addEvent("s1")); err != nil {
		t.Fatalf("re-add: %v", err)
	}

	types := []string{models.EventStrokeAdd, models.EventStrokeDelete, models.EventStrokeAdd}
	for i, want := range types {
		f := recvFrame(t, a)
		if f.Event.Type != want {
			t.Fatalf("frame %d = %s, want %s", i, f.Event.Type, want)
		}
		if f.Event.Seq != uint64(i+1) {
			t.Errorf("frame %d seq = %d, want %d", i, f.Event.Seq, i+1)
		}
	}

	// The re-added stroke is live again, so a replayed duplicate is still
	// acknowledged without a broadcast.
	if err := c.Submit(a, addEvent("s1")); err != nil {
		t.Fatalf("replay duplicate: %v", err)
	}
	select {
	case f := <-a.send:
		t.Errorf("duplicate was rebroadcast: %+v", f)
	case <-time.After(50 * time.Millisecond):
	}

	// Durably, the last operation per id wins: the row must exist
	c.Stop()
	if ids := store.insertedIDs(); len(ids) != 1 || ids[0] != "s1" {
		t.Errorf("store holds %v, want the re-added stroke", ids)
	}
	store.mu.Lock()
	deleted := len(store.deleted)
	store.mu.Unlock()
	if deleted != 0 {
		t.Errorf("delete executed against a re-added stroke (%d deletes)", deleted)
	}
}

func TestUndoneStrokeNotPersisted(t *testing.T) {
	// add then delete in the same batch: no row should be written
	store := &fakeStore{}
	c := newCoordinator("L12_0_0", store, testOptions(), nil)

	a := testSub("u1")
	c.Join(a)
	c.Submit(a, addEvent("s1"))
	c.Submit(a, models.CanvasEvent{Type: models.EventStrokeDelete, StrokeID: "s1"})
	c.Stop()

	if ids := store.insertedIDs(); len(ids) != 0 {
		t.Errorf("undone stroke was inserted: %v", ids)
	}
	store.mu.Lock()
	deleted := len(store.deleted)
	store.mu.Unlock()
	if deleted != 1 {
		t.Errorf("%d deletes executed, want 1 for the prior-batch row", deleted)
	}
}

func TestRejectionAfterRemovalDoesNotPanic(t *testing.T) {
	// The coordinator drops a subscriber (slow, idle, or shutdown) by
	// closing its send channel while the read pump may still be reporting
	// rejections for in-flight client messages.
	sub := testSub("u1")
	sub.closeSend()
	sub.closeSend() // idempotent

	if sub.enqueue(Frame{Type: FrameEvent}) {
		t.Error("enqueue after close reported success")
	}
	sub.reportRejection(ErrStopped)
	sub.reportRejection(ErrRateLimited)
}

func TestRegistryRecreatesStoppedTile(t *testing.T) {
	opts := testOptions()
	opts.IdleTimeout = 30 * time.Millisecond

	r := NewRegistry(&fakeStore{}, opts)

	// Force a coordinator into existence, then let it idle out
	first := r.get("L12_0_0")
	first.Stop()

	// Join transparently lands on a fresh actor
	sub := testSub("u1")
	c, err := r.Join("L12_0_0", sub)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if c == first {
		t.Error("Join returned the stopped coordinator")
	}
	if sub.coord != c {
		t.Error("subscriber not attached to its coordinator")
	}
	if got := recvFrame(t, sub); got.Type != FrameWelcome {
		t.Errorf("frame = %+v, want welcome", got)
	}

	r.Shutdown()
}
