package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"stationear/internal/domain"
	"stationear/internal/keywords"
)

type fakeSubscriber struct {
	mu     sync.Mutex
	feeds  map[domain.SessionID]chan domain.KeywordAlert
	opened []domain.SessionID
	err    error
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{feeds: make(map[domain.SessionID]chan domain.KeywordAlert)}
}

func (f *fakeSubscriber) subscribe(ctx context.Context, id domain.SessionID) (<-chan domain.KeywordAlert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, id)
	if f.err != nil {
		return nil, f.err
	}

	source := make(chan domain.KeywordAlert)
	f.feeds[id] = source
	out := make(chan domain.KeywordAlert)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case alert, ok := <-source:
				if !ok {
					return
				}
				select {
				case out <- alert:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (f *fakeSubscriber) feed(t *testing.T, id domain.SessionID) chan domain.KeywordAlert {
	t.Helper()
	var source chan domain.KeywordAlert
	waitFor(t, "subscription "+string(id), func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		source = f.feeds[id]
		return source != nil
	})
	return source
}

func (f *fakeSubscriber) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opened)
}

func TestAlertMonitorForwardsDistinctAlerts(t *testing.T) {
	t.Parallel()

	subscriber := newFakeSubscriber()
	events := &fakeEventSink{}
	monitor := NewAlertMonitor(subscriber.subscribe, keywords.NewDeduper(0), events, nil)
	defer monitor.Close()

	monitor.Follow(context.Background(), "A")
	feed := subscriber.feed(t, "A")

	id := int64(1)
	alert := domain.KeywordAlert{Keyword: "환승", BroadcastID: &id, DetectedAt: "09:00"}
	feed <- alert
	feed <- alert
	feed <- domain.KeywordAlert{Keyword: "지연", BroadcastID: &id, DetectedAt: "09:00"}

	waitFor(t, "two alerts", func() bool { return len(events.snapshotAlerts()) == 2 })
	alerts := events.snapshotAlerts()
	if alerts[0].alert.Keyword != "환승" || alerts[1].alert.Keyword != "지연" || alerts[0].id != "A" {
		t.Fatalf("unexpected alerts: %+v", alerts)
	}
}

func TestAlertMonitorSwitchesSessions(t *testing.T) {
	t.Parallel()

	subscriber := newFakeSubscriber()
	events := &fakeEventSink{}
	monitor := NewAlertMonitor(subscriber.subscribe, nil, events, nil)
	defer monitor.Close()

	monitor.Follow(context.Background(), "A")
	subscriber.feed(t, "A")
	monitor.Follow(context.Background(), "A")
	if subscriber.openCount() != 1 {
		t.Fatalf("following the same session twice must not resubscribe")
	}

	monitor.Follow(context.Background(), "B")
	feed := subscriber.feed(t, "B")
	if monitor.Target() != "B" {
		t.Fatalf("expected target B, got %q", monitor.Target())
	}

	feed <- domain.KeywordAlert{Keyword: "출발"}
	waitFor(t, "alert on B", func() bool { return len(events.snapshotAlerts()) == 1 })
	if got := events.snapshotAlerts()[0].id; got != "B" {
		t.Fatalf("alert attributed to %q", got)
	}
}

func TestAlertMonitorReportsSubscribeFailure(t *testing.T) {
	t.Parallel()

	subscriber := newFakeSubscriber()
	subscriber.err = errors.New("503")
	events := &fakeEventSink{}
	monitor := NewAlertMonitor(subscriber.subscribe, nil, events, nil)
	defer monitor.Close()

	monitor.Follow(context.Background(), "A")
	waitFor(t, "alerts error", func() bool { return len(events.snapshotErrors()) == 1 })
	if got := events.snapshotErrors()[0].code; got != domain.ErrorCodeAlerts {
		t.Fatalf("unexpected error code %q", got)
	}
}

func TestAlertMonitorIgnoresEmptySession(t *testing.T) {
	t.Parallel()

	subscriber := newFakeSubscriber()
	monitor := NewAlertMonitor(subscriber.subscribe, nil, &fakeEventSink{}, nil)
	monitor.Follow(context.Background(), "")
	monitor.Close()

	if subscriber.openCount() != 0 {
		t.Fatalf("expected no subscription for an empty session")
	}
}
