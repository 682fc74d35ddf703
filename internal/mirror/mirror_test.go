package mirror

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	closed bool
	err    error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Write(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func TestAsyncDeliversInOrder(t *testing.T) {
	a1, a2 := &recordingSink{}, &recordingSink{err: errors.New("down")}
	a := NewAsync(zap.NewNop(), 16, a1, a2)
	for _, k := range []string{"presence", "update", "leave"} {
		if !a.Publish(Event{Kind: k}) {
			t.Fatalf("Publish(%s) rejected", k)
		}
	}
	a.Close()
	for _, s := range []*recordingSink{a1, a2} {
		if len(s.events) != 3 || s.events[0].Kind != "presence" || s.events[2].Kind != "leave" {
			t.Fatalf("events = %+v", s.events)
		}
		if !s.closed {
			t.Fatal("sink not closed")
		}
	}
	a.Close()
}

func TestAsyncPublishAfterClose(t *testing.T) {
	sink := &recordingSink{}
	a := NewAsync(zap.NewNop(), 4, sink)
	a.Close()
	if a.Publish(Event{Kind: "update"}) {
		t.Fatal("Publish accepted after Close")
	}
	if len(sink.events) != 0 {
		t.Fatalf("events = %+v", sink.events)
	}
}

func TestAsyncPublishDuringClose(t *testing.T) {
	a := NewAsync(zap.NewNop(), 4, &recordingSink{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				a.Publish(Event{Kind: "cursor"})
			}
		}()
	}
	a.Close()
	wg.Wait()
}

func TestAsyncWithoutSinks(t *testing.T) {
	a := NewAsync(zap.NewNop(), 1)
	defer a.Close()
	if a.Publish(Event{Kind: "update"}) {
		t.Fatal("Publish accepted with no sinks")
	}
	var nilAsync *Async
	if nilAsync.Publish(Event{}) {
		t.Fatal("nil mirror accepted event")
	}
	nilAsync.Close()
}

type blockingSink struct {
	release chan struct{}
}

func (s *blockingSink) Name() string { return "blocking" }
func (s *blockingSink) Write(ctx context.Context, _ Event) error {
	<-s.release
	return nil
}
func (s *blockingSink) Close() error { return nil }

func TestAsyncDropsWhenFull(t *testing.T) {
	s := &blockingSink{release: make(chan struct{})}
	a := NewAsync(zap.NewNop(), 1, s)
	// The worker takes the first event and blocks; the second fills the queue.
	a.Publish(Event{Kind: "a"})
	deadline := time.Now().Add(time.Second)
	for !a.Publish(Event{Kind: "b"}) {
		if time.Now().After(deadline) {
			t.Fatal("queue never accepted the second event")
		}
		time.Sleep(time.Millisecond)
	}
	if a.Publish(Event{Kind: "c"}) {
		t.Fatal("Publish accepted into a full queue")
	}
	close(s.release)
	a.Close()
}

type fakePublisher struct {
	channel string
	message interface{}
	err     error
}

func (p *fakePublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	p.channel, p.message = channel, message
	cmd := redis.NewIntCmd(ctx)
	if p.err != nil {
		cmd.SetErr(p.err)
	} else {
		cmd.SetVal(1)
	}
	return cmd
}

func TestRedisSink(t *testing.T) {
	p := &fakePublisher{}
	s := NewRedisSink(p, "collab")
	if err := s.Write(context.Background(), Event{Kind: "update", Payload: []byte(`{"type":"update"}`)}); err != nil {
		t.Fatal(err)
	}
	if p.channel != "collab" || string(p.message.([]byte)) != `{"type":"update"}` {
		t.Fatalf("published %q on %q", p.message, p.channel)
	}
	p.err = errors.New("conn refused")
	if err := s.Write(context.Background(), Event{}); err == nil {
		t.Fatal("expected publish error")
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
}

type fakeExecer struct {
	sql  []string
	args [][]any
	err  error
}

func (e *fakeExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	e.sql = append(e.sql, sql)
	e.args = append(e.args, args)
	return pgconn.NewCommandTag("INSERT 0 1"), e.err
}

func TestJournalSink(t *testing.T) {
	db := &fakeExecer{}
	s := NewJournalSink(db)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := s.Write(context.Background(), Event{Kind: "leave", Participant: "p1", Payload: []byte(`{"type":"leave","id":"p1"}`), At: at}); err != nil {
		t.Fatal(err)
	}
	if len(db.sql) != 2 || db.sql[0] != createJournal || db.sql[1] != insertEvent {
		t.Fatalf("statements = %q", db.sql)
	}
	args := db.args[1]
	if args[0] != "leave" || args[1] != "p1" || args[2] != `{"type":"leave","id":"p1"}` || args[3] != at {
		t.Fatalf("args = %v", args)
	}
	db.err = errors.New("relation missing")
	if err := s.Write(context.Background(), Event{Kind: "update"}); err == nil {
		t.Fatal("expected exec error")
	}
}
