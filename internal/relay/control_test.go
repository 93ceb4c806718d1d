package relay

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/hydro-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/hydro-core/internal/remote"
)

var errBroker = errors.New("broker unavailable")

func TestSetMode_ManualResetsEveryRelay(t *testing.T) {
	store := newFakeStore()
	store.seed(t, "floor1/relay_mode", "automatic")
	store.seed(t, "floor1/relay_status", map[string]any{
		"light": true, "fan": true, "pump": true, "fertA": true, "fertB": true,
	})
	rec := &commandLog{}
	s := newObservedSession(t, store, rec)

	if err := s.SetMode(context.Background(), ModeManual); err != nil {
		t.Fatalf("SetMode() error = %v", err)
	}

	st := s.State()
	if st.Mode != ModeManual {
		t.Errorf("Mode = %q", st.Mode)
	}
	for key, on := range st.Status {
		if on {
			t.Errorf("Status[%s] = true after switching to manual", key)
		}
	}
	if got := store.get(t, "floor1/relay_status"); got != `{"fan":false,"fertA":false,"fertB":false,"light":false,"pump":false}` {
		t.Errorf("remote status = %s", got)
	}
	wantWrites := []fakeWrite{
		{op: "replace", path: "floor1/relay_mode"},
		{op: "replace", path: "floor1/relay_status"},
	}
	if got := store.writeLog(); !reflect.DeepEqual(got, wantWrites) {
		t.Errorf("writes = %v, want %v", got, wantWrites)
	}

	cmds := rec.all()
	if len(cmds) != 1 || cmds[0].Action != ActionSetMode || cmds[0].Outcome != OutcomeApplied {
		t.Errorf("recorded commands = %+v", cmds)
	}
}

func TestSetMode_AutomaticKeepsStatus(t *testing.T) {
	store := newFakeStore()
	store.seed(t, "floor1/relay_status", map[string]any{"light": true})
	s := newObservedSession(t, store, nil)

	if err := s.SetMode(context.Background(), ModeAutomatic); err != nil {
		t.Fatalf("SetMode() error = %v", err)
	}
	st := s.State()
	if st.Mode != ModeAutomatic || !st.Status[DeviceLight] {
		t.Errorf("state = %+v", st)
	}
	if got := store.get(t, "floor1/relay_mode"); got != `"automatic"` {
		t.Errorf("remote mode = %s", got)
	}
	if n := len(store.writeLog()); n != 1 {
		t.Errorf("writes = %d, want 1", n)
	}
}

func TestSetMode_InvalidMode(t *testing.T) {
	store := newFakeStore()
	s := newObservedSession(t, store, nil)

	if err := s.SetMode(context.Background(), "auto"); !errors.Is(err, ErrInvalidMode) {
		t.Errorf("SetMode(auto) error = %v, want ErrInvalidMode", err)
	}
	if n := len(store.writeLog()); n != 0 {
		t.Errorf("writes = %d, want 0", n)
	}
}

func TestSetMode_WriteFailure(t *testing.T) {
	store := newFakeStore()
	rec := &commandLog{}
	s := newObservedSession(t, store, rec)
	store.setOnWrite(func(string, string, any) error { return errBroker })

	err := s.SetMode(context.Background(), ModeAutomatic)
	if !errors.Is(err, ErrWriteFailed) || !errors.Is(err, errBroker) {
		t.Fatalf("SetMode() error = %v, want ErrWriteFailed wrapping the cause", err)
	}
	if got := s.State().Mode; got != ModeManual {
		t.Errorf("Mode = %q, want unchanged manual", got)
	}
	if cmds := rec.all(); len(cmds) != 1 || cmds[0].Outcome != OutcomeFailed {
		t.Errorf("recorded commands = %+v", cmds)
	}
}

func TestToggle_RejectedInAutomaticMode(t *testing.T) {
	store := newFakeStore()
	store.seed(t, "floor1/relay_mode", "automatic")
	store.seed(t, "floor1/relay_status", map[string]any{"fan": true})
	rec := &commandLog{}
	s := newObservedSession(t, store, rec)
	before := s.State()

	for _, key := range DefaultCatalog().Keys() {
		if _, err := s.Toggle(context.Background(), key); !errors.Is(err, ErrAutomaticMode) {
			t.Errorf("Toggle(%s) error = %v, want ErrAutomaticMode", key, err)
		}
	}

	if after := s.State(); !reflect.DeepEqual(before, after) {
		t.Errorf("state changed by rejected toggles: %+v", after)
	}
	if n := len(store.writeLog()); n != 0 {
		t.Errorf("writes = %d, want 0", n)
	}
	for _, cmd := range rec.all() {
		if cmd.Outcome != OutcomeRejected {
			t.Errorf("outcome = %q, want rejected", cmd.Outcome)
		}
	}
}

func TestToggle_TwiceRestoresOriginal(t *testing.T) {
	store := newFakeStore()
	store.seed(t, "floor1/relay_status", map[string]any{"pump": true})
	s := newObservedSession(t, store, nil)
	ctx := context.Background()

	for _, key := range DefaultCatalog().Keys() {
		original := s.State().Status[key]

		on, err := s.Toggle(ctx, key)
		if err != nil || on == original {
			t.Fatalf("first Toggle(%s) = %v, %v", key, on, err)
		}
		if s.State().Status[key] != !original {
			t.Errorf("Status[%s] after one toggle = %v", key, !original)
		}

		on, err = s.Toggle(ctx, key)
		if err != nil || on != original {
			t.Fatalf("second Toggle(%s) = %v, %v", key, on, err)
		}
		if s.State().Status[key] != original {
			t.Errorf("Status[%s] after two toggles = %v, want %v", key, s.State().Status[key], original)
		}
	}

	for _, w := range store.writeLog() {
		if w.op != "merge" || w.path != "floor1/relay_status" {
			t.Errorf("toggle wrote %+v, want merge of floor1/relay_status", w)
		}
	}
}

func TestToggle_UnknownDevice(t *testing.T) {
	s := newObservedSession(t, newFakeStore(), nil)
	if _, err := s.Toggle(context.Background(), "heater"); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("Toggle(heater) error = %v", err)
	}
}

func TestToggle_OptimisticUpdateVisibleDuringWrite(t *testing.T) {
	store := newFakeStore()
	s := newObservedSession(t, store, nil)

	var during bool
	store.setOnWrite(func(string, string, any) error {
		during = s.State().Status[DeviceLight]
		return nil
	})

	if _, err := s.Toggle(context.Background(), DeviceLight); err != nil {
		t.Fatal(err)
	}
	if !during {
		t.Error("optimistic value not visible while the write was in flight")
	}
}

func TestToggle_RollbackOnWriteFailure(t *testing.T) {
	store := newFakeStore()
	rec := &commandLog{}
	s := newObservedSession(t, store, rec)

	var (
		mu   sync.Mutex
		seen []bool
	)
	s.OnChange(func(st FloorState) {
		mu.Lock()
		seen = append(seen, st.Status[DeviceLight])
		mu.Unlock()
	})
	store.setOnWrite(func(string, string, any) error { return errBroker })

	on, err := s.Toggle(context.Background(), DeviceLight)
	if !errors.Is(err, ErrWriteFailed) || !errors.Is(err, errBroker) {
		t.Fatalf("Toggle() error = %v, want ErrWriteFailed", err)
	}
	if on {
		t.Error("Toggle() returned true after rollback")
	}
	if s.State().Status[DeviceLight] {
		t.Error("Status[light] not restored after failed write")
	}

	mu.Lock()
	if !reflect.DeepEqual(seen, []bool{true, false}) {
		t.Errorf("listener saw %v, want optimistic true then restored false", seen)
	}
	mu.Unlock()

	if cmds := rec.all(); len(cmds) != 1 || cmds[0].Outcome != OutcomeRolledBack {
		t.Errorf("recorded commands = %+v", cmds)
	}
}

func TestToggle_RollbackIgnoresConcurrentToggleOfOtherDevice(t *testing.T) {
	store := newFakeStore()
	s := newObservedSession(t, store, nil)
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	store.setOnWrite(func(_ string, _ string, value any) error {
		fields, _ := value.(map[string]any)
		if _, ok := fields[string(DeviceLight)]; ok {
			close(entered)
			<-release
			return errBroker
		}
		return nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := s.Toggle(ctx, DeviceLight)
		done <- err
	}()

	<-entered
	if on, err := s.Toggle(ctx, DeviceFan); err != nil || !on {
		t.Fatalf("Toggle(fan) = %v, %v", on, err)
	}
	close(release)

	if err := <-done; !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("Toggle(light) error = %v, want ErrWriteFailed", err)
	}

	st := s.State()
	if st.Status[DeviceLight] {
		t.Error("Status[light] = true, want pre-toggle false")
	}
	if !st.Status[DeviceFan] {
		t.Error("Status[fan] = false, the concurrent toggle was lost")
	}
}

func TestCommands_CarryActor(t *testing.T) {
	rec := &commandLog{}
	s := newObservedSession(t, newFakeStore(), rec)

	ctx := WithActor(context.Background(), "grower-7")
	if _, err := s.Toggle(ctx, DevicePump); err != nil {
		t.Fatal(err)
	}

	cmds := rec.all()
	if len(cmds) != 1 {
		t.Fatalf("recorded %d commands", len(cmds))
	}
	cmd := cmds[0]
	if cmd.Actor != "grower-7" || cmd.Floor != "floor1" || cmd.Device != DevicePump || !cmd.At.Equal(testNow) {
		t.Errorf("command = %+v", cmd)
	}
	if cmd.Detail["to"] != true {
		t.Errorf("detail = %v", cmd.Detail)
	}
}

func TestMultiRecorder(t *testing.T) {
	a, b := &commandLog{}, &commandLog{}
	m := MultiRecorder{a, nil, b}
	m.RecordCommand(context.Background(), Command{Action: ActionToggle})
	if len(a.all()) != 1 || len(b.all()) != 1 {
		t.Error("MultiRecorder did not reach every recorder")
	}
}

func TestToggle_RejectedUntilModeLoaded(t *testing.T) {
	store := newFakeStore()
	store.silent = true
	rec := &commandLog{}
	s := newObservedSession(t, store, rec)
	ctx := context.Background()

	store.deliver(t, "floor1/relay_status", remote.Snapshot{})
	store.deliver(t, "floor1/relay_time", remote.Snapshot{})
	if s.State().Loading {
		t.Fatal("Loading = true after status and schedule")
	}

	// The mirror reads manual by default, but nothing has confirmed it.
	if _, err := s.Toggle(ctx, DeviceLight); !errors.Is(err, ErrLoading) {
		t.Fatalf("Toggle before mode error = %v, want ErrLoading", err)
	}
	if s.State().Status[DeviceLight] {
		t.Error("rejected toggle changed the mirror")
	}
	if n := len(store.writeLog()); n != 0 {
		t.Errorf("writes = %d, want 0", n)
	}

	store.deliver(t, "floor1/relay_mode", remote.Snapshot{Value: []byte(`"automatic"`)})
	if _, err := s.Toggle(ctx, DeviceLight); !errors.Is(err, ErrAutomaticMode) {
		t.Fatalf("Toggle in automatic error = %v, want ErrAutomaticMode", err)
	}

	store.deliver(t, "floor1/relay_mode", remote.Snapshot{Value: []byte(`"manual"`)})
	on, err := s.Toggle(ctx, DeviceLight)
	if err != nil || !on {
		t.Fatalf("Toggle in manual = %v, %v; want true, nil", on, err)
	}
	if n := len(store.writeLog()); n != 1 {
		t.Errorf("writes = %d, want 1", n)
	}
}

// retainedBroker is a minimal broker for running a session over an
// MQTTStore: it records publishes and lets the test inject retained
// documents.
type retainedBroker struct {
	mu        sync.Mutex
	handler   mqtt.MessageHandler
	published []string
}

func (b *retainedBroker) Publish(topic string, payload []byte, _ byte, _ bool) error {
	b.mu.Lock()
	b.published = append(b.published, topic+"="+string(payload))
	b.mu.Unlock()
	return nil
}

func (b *retainedBroker) Subscribe(_ string, _ byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	b.handler = handler
	b.mu.Unlock()
	return nil
}

func (b *retainedBroker) Unsubscribe(string) error { return nil }

func (b *retainedBroker) inject(t *testing.T, topic, payload string) {
	t.Helper()
	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()
	if err := h(topic, []byte(payload)); err != nil {
		t.Fatalf("handler(%s) error = %v", topic, err)
	}
}

func TestToggle_MQTTStoreAutomaticModeArrivesDuringSettle(t *testing.T) {
	broker := &retainedBroker{}
	store := remote.NewMQTTStore(remote.MQTTStoreOptions{
		Broker: broker,
		Topics: mqtt.NewTopics("hydro"),
		QoS:    1,
		Settle: time.Hour,
	})
	ctx := context.Background()
	if err := store.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = store.Close() }()

	s := newObservedSession(t, store, nil)

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if _, err := s.Toggle(ctx, DeviceLight); !errors.Is(err, ErrLoading) {
		t.Fatalf("Toggle during settle error = %v, want ErrLoading", err)
	}

	broker.inject(t, "hydro/state/floor1/relay_mode", `"automatic"`)
	if _, err := s.Toggle(ctx, DeviceLight); !errors.Is(err, ErrAutomaticMode) {
		t.Fatalf("Toggle after automatic mode error = %v, want ErrAutomaticMode", err)
	}

	broker.mu.Lock()
	defer broker.mu.Unlock()
	if len(broker.published) != 0 {
		t.Errorf("published = %v, want nothing", broker.published)
	}
}
