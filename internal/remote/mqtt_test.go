package remote

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/hydro-core/internal/infrastructure/mqtt"
)

// fakeBroker is an in-process retained-message broker. Deliveries happen
// synchronously inside Publish and Subscribe unless queueing is enabled,
// in which case published messages wait in the queue until flushed.
type fakeBroker struct {
	mu         sync.Mutex
	retained   map[string][]byte
	handlers   map[string]mqtt.MessageHandler
	publishes  []string
	publishErr error

	queueing bool
	queued   []brokerMessage
}

type brokerMessage struct {
	topic   string
	payload []byte
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		retained: make(map[string][]byte),
		handlers: make(map[string]mqtt.MessageHandler),
	}
}

func topicMatches(filter, topic string) bool {
	f := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	for i, level := range f {
		if level == "#" {
			return true
		}
		if i >= len(tp) || (level != "+" && level != tp[i]) {
			return false
		}
	}
	return len(f) == len(tp)
}

func (b *fakeBroker) Publish(topic string, payload []byte, _ byte, retained bool) error {
	b.mu.Lock()
	if b.publishErr != nil {
		err := b.publishErr
		b.mu.Unlock()
		return err
	}
	b.publishes = append(b.publishes, topic)
	if retained {
		if len(payload) == 0 {
			delete(b.retained, topic)
		} else {
			b.retained[topic] = append([]byte(nil), payload...)
		}
	}
	if b.queueing {
		b.queued = append(b.queued, brokerMessage{topic, append([]byte(nil), payload...)})
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	b.route(topic, payload)
	return nil
}

func (b *fakeBroker) route(topic string, payload []byte) {
	b.mu.Lock()
	var targets []mqtt.MessageHandler
	for filter, h := range b.handlers {
		if topicMatches(filter, topic) {
			targets = append(targets, h)
		}
	}
	b.mu.Unlock()

	for _, h := range targets {
		_ = h(topic, payload)
	}
}

// enqueue adds a message from another client behind the queued ones.
func (b *fakeBroker) enqueue(topic string, payload []byte) {
	b.mu.Lock()
	b.retained[topic] = append([]byte(nil), payload...)
	b.queued = append(b.queued, brokerMessage{topic, payload})
	b.mu.Unlock()
}

// flush delivers up to n queued messages in order; n < 0 delivers all.
func (b *fakeBroker) flush(n int) {
	for n != 0 {
		b.mu.Lock()
		if len(b.queued) == 0 {
			b.mu.Unlock()
			return
		}
		m := b.queued[0]
		b.queued = b.queued[1:]
		b.mu.Unlock()

		b.route(m.topic, m.payload)
		n--
	}
}

func (b *fakeBroker) Subscribe(filter string, _ byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	b.handlers[filter] = handler
	var replay []brokerMessage
	for topic, payload := range b.retained {
		if topicMatches(filter, topic) {
			replay = append(replay, brokerMessage{topic, payload})
		}
	}
	b.mu.Unlock()

	for _, m := range replay {
		_ = handler(m.topic, m.payload)
	}
	return nil
}

func (b *fakeBroker) Unsubscribe(filter string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, filter)
	return nil
}

func (b *fakeBroker) retainedValue(topic string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.retained[topic]
	return string(v), ok
}

func (b *fakeBroker) failPublishes(err error) {
	b.mu.Lock()
	b.publishErr = err
	b.mu.Unlock()
}

func newTestMQTTStore(t *testing.T, broker *fakeBroker, settle time.Duration) *MQTTStore {
	t.Helper()
	store := NewMQTTStore(MQTTStoreOptions{
		Broker: broker,
		Topics: mqtt.NewTopics("hydro"),
		QoS:    1,
		Settle: settle,
	})
	if err := store.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestMQTTStore_RetainedDocumentsMirrored(t *testing.T) {
	broker := newFakeBroker()
	broker.retained["hydro/state/floor1/relay_mode"] = []byte(`"automatic"`)
	broker.retained["hydro/state/floor1/relay_status"] = []byte(`{"light":true}`)
	broker.retained["hydro/system/status"] = []byte(`{"status":"online"}`)

	store := newTestMQTTStore(t, broker, -1)

	var mode, light recorder
	if _, err := store.Subscribe(context.Background(), "floor1/relay_mode", mode.fn); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Subscribe(context.Background(), "floor1/relay_status/light", light.fn); err != nil {
		t.Fatal(err)
	}

	if got := mode.values(); !equalStrings(got, []string{`"automatic"`}) {
		t.Errorf("mode snapshots = %v", got)
	}
	if got := light.values(); !equalStrings(got, []string{"true"}) {
		t.Errorf("light snapshots = %v", got)
	}
}

func TestMQTTStore_LoadingUntilSettled(t *testing.T) {
	broker := newFakeBroker()
	store := newTestMQTTStore(t, broker, time.Hour)

	var mode, status recorder
	if _, err := store.Subscribe(context.Background(), "floor1/relay_mode", mode.fn); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Subscribe(context.Background(), "floor1/relay_status", status.fn); err != nil {
		t.Fatal(err)
	}
	if mode.count() != 0 || status.count() != 0 {
		t.Fatal("unseen documents must not be delivered before settle")
	}

	// A document arriving during the window is delivered immediately.
	_ = broker.Publish("hydro/state/floor1/relay_mode", []byte(`"manual"`), 1, true)
	if got := mode.values(); !equalStrings(got, []string{`"manual"`}) {
		t.Errorf("mode snapshots = %v", got)
	}

	store.settle()
	if got := status.values(); !equalStrings(got, []string{"null"}) {
		t.Errorf("status after settle = %v, want [null]", got)
	}
	if mode.count() != 1 {
		t.Errorf("settle re-delivered an already delivered document: %v", mode.values())
	}
	if !store.Settled() {
		t.Error("Settled() = false after settle")
	}
}

func TestMQTTStore_WritesPublishWholeDocument(t *testing.T) {
	broker := newFakeBroker()
	broker.retained["hydro/state/floor1/relay_status"] = []byte(`{"fan":false,"light":false}`)
	store := newTestMQTTStore(t, broker, -1)
	ctx := context.Background()

	var rec recorder
	if _, err := store.Subscribe(ctx, "floor1/relay_status", rec.fn); err != nil {
		t.Fatal(err)
	}

	if err := store.MergeFields(ctx, "floor1/relay_status", map[string]any{"fan": true}); err != nil {
		t.Fatalf("MergeFields() error = %v", err)
	}
	if v, _ := broker.retainedValue("hydro/state/floor1/relay_status"); v != `{"fan":true,"light":false}` {
		t.Errorf("retained document = %s", v)
	}

	// The echo and the local apply yield one delivery, not two.
	want := []string{`{"fan":false,"light":false}`, `{"fan":true,"light":false}`}
	if got := rec.values(); !equalStrings(got, want) {
		t.Errorf("snapshots = %v, want %v", got, want)
	}

	// Deep write inside a document.
	if err := store.MergeFields(ctx, "floor1/relay_time/light/period1", map[string]any{"start": "06:00"}); err != nil {
		t.Fatal(err)
	}
	if v, _ := broker.retainedValue("hydro/state/floor1/relay_time"); v != `{"light":{"period1":{"start":"06:00"}}}` {
		t.Errorf("relay_time document = %s", v)
	}

	// Clearing a document removes the retained message.
	if err := store.ReplaceAll(ctx, "floor1/relay_time", map[string]any{}); err != nil {
		t.Fatal(err)
	}
	if _, ok := broker.retainedValue("hydro/state/floor1/relay_time"); ok {
		t.Error("empty document should clear the retained message")
	}
}

func TestMQTTStore_PublishFailure(t *testing.T) {
	broker := newFakeBroker()
	store := newTestMQTTStore(t, broker, -1)
	ctx := context.Background()

	var rec recorder
	if _, err := store.Subscribe(ctx, "floor1/relay_mode", rec.fn); err != nil {
		t.Fatal(err)
	}

	broker.failPublishes(mqtt.ErrNotConnected)
	err := store.ReplaceAll(ctx, "floor1/relay_mode", "automatic")
	if !errors.Is(err, ErrWriteFailed) || !errors.Is(err, mqtt.ErrNotConnected) {
		t.Fatalf("ReplaceAll() error = %v, want ErrWriteFailed wrapping ErrNotConnected", err)
	}
	if got := rec.values(); !equalStrings(got, []string{"null"}) {
		t.Errorf("failed write must not reach subscribers: %v", got)
	}
}

func TestMQTTStore_WriteWaitsForSettle(t *testing.T) {
	broker := newFakeBroker()
	store := newTestMQTTStore(t, broker, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := store.ReplaceAll(ctx, "floor1/relay_mode", "manual"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("ReplaceAll() before settle error = %v, want DeadlineExceeded", err)
	}

	store.settle()
	if err := store.ReplaceAll(context.Background(), "floor1/relay_mode", "manual"); err != nil {
		t.Errorf("ReplaceAll() after settle error = %v", err)
	}
}

func TestMQTTStore_DisconnectAndReconnect(t *testing.T) {
	broker := newFakeBroker()
	broker.retained["hydro/state/floor1/relay_mode"] = []byte(`"manual"`)
	store := newTestMQTTStore(t, broker, -1)

	var rec recorder
	if _, err := store.Subscribe(context.Background(), "floor1/relay_mode", rec.fn); err != nil {
		t.Fatal(err)
	}

	store.HandleConnectionLost(errors.New("network down"))
	rec.mu.Lock()
	lastErr := rec.snaps[len(rec.snaps)-1].Err
	rec.mu.Unlock()
	if !errors.Is(lastErr, ErrDisconnected) {
		t.Errorf("snapshot error = %v, want ErrDisconnected", lastErr)
	}

	store.HandleReconnect()
	want := []string{`"manual"`, "error", `"manual"`}
	if got := rec.values(); !equalStrings(got, want) {
		t.Errorf("snapshots = %v, want %v", got, want)
	}
}

func TestMQTTStore_MalformedDocumentReadsAbsent(t *testing.T) {
	broker := newFakeBroker()
	broker.retained["hydro/state/floor1/relay_mode"] = []byte(`{broken`)
	store := newTestMQTTStore(t, broker, -1)

	var rec recorder
	if _, err := store.Subscribe(context.Background(), "floor1/relay_mode", rec.fn); err != nil {
		t.Fatal(err)
	}
	if got := rec.values(); !equalStrings(got, []string{"null"}) {
		t.Errorf("snapshots = %v, want [null]", got)
	}
}

func TestMQTTStore_PathValidation(t *testing.T) {
	broker := newFakeBroker()
	store := newTestMQTTStore(t, broker, -1)
	ctx := context.Background()

	if _, err := store.Subscribe(ctx, "floor1", func(Snapshot) {}); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("Subscribe above document depth error = %v, want ErrInvalidPath", err)
	}
	if err := store.ReplaceAll(ctx, "floor1", 1); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("ReplaceAll above document depth error = %v, want ErrInvalidPath", err)
	}

	unstarted := NewMQTTStore(MQTTStoreOptions{Broker: broker, Topics: mqtt.NewTopics("hydro")})
	if _, err := unstarted.Subscribe(ctx, "floor1/relay_mode", func(Snapshot) {}); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Subscribe before Start error = %v, want ErrNotStarted", err)
	}
}

func TestMQTTStore_Close(t *testing.T) {
	broker := newFakeBroker()
	store := newTestMQTTStore(t, broker, -1)

	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if len(broker.handlers) != 0 {
		t.Error("Close() should unsubscribe from the broker")
	}
	if err := store.ReplaceAll(context.Background(), "floor1/relay_mode", "manual"); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("ReplaceAll after Close error = %v, want ErrStoreClosed", err)
	}
}

func TestMQTTStore_LateEchoesDoNotRollBack(t *testing.T) {
	broker := newFakeBroker()
	broker.queueing = true
	store := newTestMQTTStore(t, broker, -1)
	ctx := context.Background()

	var rec recorder
	if _, err := store.Subscribe(ctx, "floor1/relay_status", rec.fn); err != nil {
		t.Fatal(err)
	}

	merge := func(key string) {
		t.Helper()
		if err := store.MergeFields(ctx, "floor1/relay_status", map[string]any{key: true}); err != nil {
			t.Fatalf("MergeFields(%s) error = %v", key, err)
		}
	}
	merge("light")
	merge("fan")
	broker.flush(1) // echo of the light write, older than the mirror
	merge("pump")
	broker.flush(-1)

	const want = `{"fan":true,"light":true,"pump":true}`
	if v, _ := broker.retainedValue("hydro/state/floor1/relay_status"); v != want {
		t.Errorf("retained document = %s, want %s", v, want)
	}
	wantSnaps := []string{
		"null",
		`{"light":true}`,
		`{"fan":true,"light":true}`,
		want,
	}
	if got := rec.values(); !equalStrings(got, wantSnaps) {
		t.Errorf("snapshots = %v, want %v", got, wantSnaps)
	}
}

func TestMQTTStore_ForeignDocumentOrdering(t *testing.T) {
	broker := newFakeBroker()
	broker.queueing = true
	store := newTestMQTTStore(t, broker, -1)
	ctx := context.Background()
	const topic = "hydro/state/floor1/relay_mode"

	var rec recorder
	if _, err := store.Subscribe(ctx, "floor1/relay_mode", rec.fn); err != nil {
		t.Fatal(err)
	}

	// Another client's document reached the broker first; this process's
	// publish overwrites it there, so the mirror must not show it.
	broker.mu.Lock()
	broker.queued = append(broker.queued, brokerMessage{topic, []byte(`"automatic"`)})
	broker.mu.Unlock()
	if err := store.ReplaceAll(ctx, "floor1/relay_mode", "manual"); err != nil {
		t.Fatal(err)
	}
	broker.flush(-1)

	want := []string{"null", `"manual"`}
	if got := rec.values(); !equalStrings(got, want) {
		t.Errorf("snapshots = %v, want %v", got, want)
	}

	// With nothing pending, other clients' documents are applied.
	broker.enqueue(topic, []byte(`"automatic"`))
	broker.flush(-1)
	want = append(want, `"automatic"`)
	if got := rec.values(); !equalStrings(got, want) {
		t.Errorf("snapshots = %v, want %v", got, want)
	}
}

func TestMQTTStore_FailedPublishIsNotPending(t *testing.T) {
	broker := newFakeBroker()
	store := newTestMQTTStore(t, broker, -1)
	ctx := context.Background()

	var rec recorder
	if _, err := store.Subscribe(ctx, "floor1/relay_mode", rec.fn); err != nil {
		t.Fatal(err)
	}

	broker.failPublishes(mqtt.ErrNotConnected)
	if err := store.ReplaceAll(ctx, "floor1/relay_mode", "automatic"); !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("ReplaceAll() error = %v, want ErrWriteFailed", err)
	}
	broker.failPublishes(nil)

	// A document from another client must not be mistaken for a
	// superseded one.
	_ = broker.Publish("hydro/state/floor1/relay_mode", []byte(`"manual"`), 1, true)
	if got := rec.values(); !equalStrings(got, []string{"null", `"manual"`}) {
		t.Errorf("snapshots = %v", got)
	}
}

func TestMQTTStore_ConnectionLossClearsPending(t *testing.T) {
	broker := newFakeBroker()
	broker.queueing = true
	store := newTestMQTTStore(t, broker, -1)
	ctx := context.Background()

	var rec recorder
	if _, err := store.Subscribe(ctx, "floor1/relay_mode", rec.fn); err != nil {
		t.Fatal(err)
	}
	if err := store.ReplaceAll(ctx, "floor1/relay_mode", "automatic"); err != nil {
		t.Fatal(err)
	}

	// The echo is lost with the connection; the replayed retained document
	// after reconnect is taken as is.
	broker.mu.Lock()
	broker.queued = nil
	broker.mu.Unlock()
	store.HandleConnectionLost(errors.New("network down"))
	store.HandleReconnect()
	broker.enqueue("hydro/state/floor1/relay_mode", []byte(`"manual"`))
	broker.flush(-1)

	want := []string{"null", `"automatic"`, "error", `"automatic"`, `"manual"`}
	if got := rec.values(); !equalStrings(got, want) {
		t.Errorf("snapshots = %v, want %v", got, want)
	}
}
