package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/auraops/relay/internal/channel"
	"github.com/auraops/relay/internal/db"
)

type fakeRepo struct {
	claimable []*db.QueuedMessage
	claimErr  error

	deleted     []uuid.UUID
	rescheduled []rescheduleCall
	exhausted   []exhaustCall
	deleteErr   error
}

type rescheduleCall struct {
	id          uuid.UUID
	attempts    int
	lastError   string
	nextRetryAt time.Time
}

type exhaustCall struct {
	id        uuid.UUID
	attempts  int
	lastError string
}

func (f *fakeRepo) ClaimBatch(ctx context.Context, limit int, now time.Time) ([]*db.QueuedMessage, error) {
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	if len(f.claimable) > limit {
		return f.claimable[:limit], nil
	}
	return f.claimable, nil
}

func (f *fakeRepo) Delete(ctx context.Context, id uuid.UUID) error {
	f.deleted = append(f.deleted, id)
	return f.deleteErr
}

func (f *fakeRepo) Reschedule(ctx context.Context, id uuid.UUID, attempts int, lastError string, nextRetryAt time.Time) error {
	f.rescheduled = append(f.rescheduled, rescheduleCall{id, attempts, lastError, nextRetryAt})
	return nil
}

func (f *fakeRepo) MarkExhausted(ctx context.Context, id uuid.UUID, attempts int, lastError string, now time.Time) error {
	f.exhausted = append(f.exhausted, exhaustCall{id, attempts, lastError})
	return nil
}

// scriptedSender fails targets listed in failures, succeeds otherwise.
type scriptedSender struct {
	failures map[string]error
	sent     []string
}

func (s *scriptedSender) Send(ctx context.Context, channelName, target, body string) (*channel.Result, error) {
	if err, ok := s.failures[target]; ok {
		return nil, err
	}
	s.sent = append(s.sent, target)
	return &channel.Result{MessageID: "prov-1"}, nil
}

type fakeExporter struct {
	exported []*db.QueuedMessage
	err      error
}

func (f *fakeExporter) ExportExhausted(ctx context.Context, msg *db.QueuedMessage, lastError string) error {
	f.exported = append(f.exported, msg)
	return f.err
}

func queuedMsg(target string, attempts int) *db.QueuedMessage {
	return &db.QueuedMessage{
		ID:          uuid.New(),
		TenantID:    "tenant-1",
		Target:      target,
		Channel:     db.ChannelWhatsApp,
		Body:        "hello",
		Status:      db.StatusProcessing,
		Attempts:    attempts,
		MaxAttempts: db.DefaultMaxAttempts,
	}
}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 5 * time.Minute},
		{2, 10 * time.Minute},
		{3, 15 * time.Minute},
		{12, 60 * time.Minute},
		{13, 60 * time.Minute},
		{100, 60 * time.Minute},
	}
	for _, tt := range tests {
		if got := Backoff(tt.attempts); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestRunDeletesOnSuccess(t *testing.T) {
	msg := queuedMsg("+15551234567", 0)
	repo := &fakeRepo{claimable: []*db.QueuedMessage{msg}}
	sender := &scriptedSender{}
	d := New(repo, sender, nil, 0, zap.NewNop())

	summary, err := d.Run(context.Background(), testNow)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Sent != 1 || summary.Processed != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if len(repo.deleted) != 1 || repo.deleted[0] != msg.ID {
		t.Errorf("deleted = %v, want [%s]", repo.deleted, msg.ID)
	}
	if len(repo.rescheduled) != 0 || len(repo.exhausted) != 0 {
		t.Error("successful send must not reschedule or exhaust")
	}
}

func TestRunReschedulesWithBackoff(t *testing.T) {
	msg := queuedMsg("+15551234567", 0)
	repo := &fakeRepo{claimable: []*db.QueuedMessage{msg}}
	sender := &scriptedSender{failures: map[string]error{"+15551234567": errors.New("timeout")}}
	d := New(repo, sender, nil, 0, zap.NewNop())

	summary, err := d.Run(context.Background(), testNow)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Rescheduled != 1 {
		t.Fatalf("rescheduled = %d, want 1", summary.Rescheduled)
	}

	call := repo.rescheduled[0]
	if call.attempts != 1 {
		t.Errorf("attempts = %d, want 1", call.attempts)
	}
	if call.lastError != "timeout" {
		t.Errorf("lastError = %q", call.lastError)
	}
	if want := testNow.Add(5 * time.Minute); !call.nextRetryAt.Equal(want) {
		t.Errorf("nextRetryAt = %v, want %v", call.nextRetryAt, want)
	}
}

func TestRunSecondFailureDoublesDelay(t *testing.T) {
	msg := queuedMsg("+15551234567", 1)
	repo := &fakeRepo{claimable: []*db.QueuedMessage{msg}}
	sender := &scriptedSender{failures: map[string]error{"+15551234567": errors.New("timeout")}}
	d := New(repo, sender, nil, 0, zap.NewNop())

	if _, err := d.Run(context.Background(), testNow); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	call := repo.rescheduled[0]
	if call.attempts != 2 {
		t.Errorf("attempts = %d, want 2", call.attempts)
	}
	if want := testNow.Add(10 * time.Minute); !call.nextRetryAt.Equal(want) {
		t.Errorf("nextRetryAt = %v, want %v", call.nextRetryAt, want)
	}
}

func TestRunExhaustsAtMaxAttempts(t *testing.T) {
	msg := queuedMsg("+15551234567", 2) // third attempt is the last
	repo := &fakeRepo{claimable: []*db.QueuedMessage{msg}}
	sender := &scriptedSender{failures: map[string]error{"+15551234567": errors.New("still down")}}
	exporter := &fakeExporter{}
	d := New(repo, sender, exporter, 0, zap.NewNop())

	summary, err := d.Run(context.Background(), testNow)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Exhausted != 1 {
		t.Fatalf("exhausted = %d, want 1", summary.Exhausted)
	}

	call := repo.exhausted[0]
	if call.attempts != 3 || call.lastError != "still down" {
		t.Errorf("exhaust call = %+v", call)
	}
	if len(repo.rescheduled) != 0 {
		t.Error("exhausted message must not be rescheduled")
	}
	if len(exporter.exported) != 1 {
		t.Fatalf("exported = %d, want 1", len(exporter.exported))
	}
	if exporter.exported[0].Attempts != 3 {
		t.Errorf("exported attempts = %d, want 3", exporter.exported[0].Attempts)
	}
}

func TestRunIsolatesFailures(t *testing.T) {
	bad := queuedMsg("+15550000000", 0)
	good := queuedMsg("+15551111111", 0)
	repo := &fakeRepo{claimable: []*db.QueuedMessage{bad, good}}
	sender := &scriptedSender{failures: map[string]error{"+15550000000": errors.New("boom")}}
	d := New(repo, sender, nil, 0, zap.NewNop())

	summary, err := d.Run(context.Background(), testNow)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Sent != 1 || summary.Rescheduled != 1 {
		t.Errorf("summary = %+v, one failure must not block the batch", summary)
	}
	if len(sender.sent) != 1 || sender.sent[0] != "+15551111111" {
		t.Errorf("sent = %v", sender.sent)
	}
}

func TestRunRespectsBatchSize(t *testing.T) {
	var msgs []*db.QueuedMessage
	for i := 0; i < 30; i++ {
		msgs = append(msgs, queuedMsg("+1555000"+string(rune('0'+i%10)), 0))
	}
	repo := &fakeRepo{claimable: msgs}
	sender := &scriptedSender{}
	d := New(repo, sender, nil, 20, zap.NewNop())

	summary, err := d.Run(context.Background(), testNow)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Processed != 20 {
		t.Errorf("processed = %d, want 20", summary.Processed)
	}
}

func TestRunClaimErrorPropagates(t *testing.T) {
	repo := &fakeRepo{claimErr: errors.New("db down")}
	d := New(repo, &scriptedSender{}, nil, 0, zap.NewNop())

	if _, err := d.Run(context.Background(), testNow); err == nil {
		t.Fatal("Run() should propagate claim errors")
	}
}

func TestRunEmptyQueue(t *testing.T) {
	repo := &fakeRepo{}
	d := New(repo, &scriptedSender{}, nil, 0, zap.NewNop())

	summary, err := d.Run(context.Background(), testNow)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Processed != 0 {
		t.Errorf("processed = %d, want 0", summary.Processed)
	}
}
