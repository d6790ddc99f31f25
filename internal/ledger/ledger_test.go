package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/cuepoint/internal/domain"
	"github.com/ashureev/cuepoint/internal/store"
)

func newTestLedger(t *testing.T, opts ...Option) (*Ledger, store.Repository) {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return New(repo, opts...), repo
}

var project = &domain.Project{ID: "p1", Name: `Cells "intro"`}

func startSession(t *testing.T, l *Ledger, learner string) *domain.Session {
	t.Helper()
	sess, err := l.StartSession(context.Background(), project, learner)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	return sess
}

func TestRecordAttemptTwiceIncrementsOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _ := newTestLedger(t)
	sess := startSession(t, l, "Ada")

	for i := 0; i < 2; i++ {
		if _, err := l.RecordAttempt(ctx, sess.ID, "q1", domain.Delta{Attempts: 1}); err != nil {
			t.Fatalf("RecordAttempt: %v", err)
		}
	}
	got, err := l.Session(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Attempts) != 1 || got.Attempts[0].Attempts != 2 {
		t.Fatalf("want one record with attempts=2, got %+v", got.Attempts)
	}
}

func TestCorrectIsSticky(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _ := newTestLedger(t)
	sess := startSession(t, l, "Ada")

	if _, err := l.RecordAttempt(ctx, sess.ID, "q1", domain.Delta{Answered: true, Correct: true}); err != nil {
		t.Fatal(err)
	}
	a, err := l.RecordAttempt(ctx, sess.ID, "q1", domain.Delta{Attempts: 1, Answered: true})
	if err != nil {
		t.Fatal(err)
	}
	if !a.Correct {
		t.Fatal("correct reverted to false")
	}
}

func TestConcurrentWritesForOneSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _ := newTestLedger(t)
	sess := startSession(t, l, "Ada")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.RecordAttempt(ctx, sess.ID, "q1", domain.Delta{Attempts: 1, TimeSpent: time.Millisecond}); err != nil {
				t.Errorf("RecordAttempt: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := l.Session(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Attempts[0].Attempts != 20 || got.Attempts[0].TimeSpent != 20*time.Millisecond {
		t.Fatalf("lost updates: %+v", got.Attempts[0])
	}
}

type failingRepo struct {
	store.Repository
}

func (failingRepo) UpsertAttempt(context.Context, string, string, domain.Delta, time.Time) (*domain.Attempt, error) {
	return nil, errors.New("disk I/O error")
}

func TestRecordAttemptPersistenceFailure(t *testing.T) {
	t.Parallel()
	_, repo := newTestLedger(t)
	l := New(failingRepo{Repository: repo})

	_, err := l.RecordAttempt(context.Background(), "s1", "q1", domain.Delta{Attempts: 1})
	if !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
}

func TestRecordAttemptUnknownSession(t *testing.T) {
	t.Parallel()
	l, _ := newTestLedger(t)
	_, err := l.RecordAttempt(context.Background(), "nope", "q1", domain.Delta{Attempts: 1})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStartSessionRequiresLearner(t *testing.T) {
	t.Parallel()
	l, _ := newTestLedger(t)
	if _, err := l.StartSession(context.Background(), project, "  "); !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSessionExportRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	start := time.UnixMilli(1_700_000_000_000)
	l, _ := newTestLedger(t, WithClock(func() time.Time { return start }))
	sess := startSession(t, l, "Ada")

	steps := []struct {
		id string
		d  domain.Delta
	}{
		{"q2", domain.Delta{Attempts: 1}},
		{"q2", domain.Delta{Answered: true, Correct: true, TimeSpent: 2500 * time.Millisecond}},
		{"q1", domain.Delta{Skipped: true, TimeSpent: time.Second}},
	}
	for _, s := range steps {
		if _, err := l.RecordAttempt(ctx, sess.ID, s.id, s.d); err != nil {
			t.Fatal(err)
		}
	}
	original, err := l.Session(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := WriteSessionJSON(&buf, original); err != nil {
		t.Fatal(err)
	}

	other, _ := newTestLedger(t)
	n, err := other.Import(ctx, &buf)
	if err != nil || n != 1 {
		t.Fatalf("Import: n=%d err=%v", n, err)
	}
	restored, err := other.Session(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if restored.LearnerName != "Ada" || !restored.StartedAt.Equal(original.StartedAt) {
		t.Fatalf("session fields differ: %+v", restored)
	}
	if len(restored.Attempts) != len(original.Attempts) {
		t.Fatalf("attempts differ: %+v vs %+v", restored.Attempts, original.Attempts)
	}
	for i := range original.Attempts {
		o, r := original.Attempts[i], restored.Attempts[i]
		if o.InteractionID != r.InteractionID || o.Attempts != r.Attempts ||
			o.Correct != r.Correct || o.Skipped != r.Skipped || o.TimeSpent != r.TimeSpent {
			t.Fatalf("attempt %d differs: %+v vs %+v", i, r, o)
		}
	}
	if got := Score(restored).String(); got != "1/2" {
		t.Fatalf("score = %s, want 1/2", got)
	}
	skipped, err := other.Skipped(ctx, sess.ID)
	if err != nil || len(skipped) != 1 || skipped[0] != "q1" {
		t.Fatalf("Skipped = %v %v", skipped, err)
	}
}

func TestImportRejectsWholeBatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _ := newTestLedger(t)
	input := `[
		{"sessionId":"ok","studentName":"Ada","interactions":[]},
		{"sessionId":"bad","studentName":"Bob","interactions":[{"id":"q1","attempts":-1}]}
	]`
	if _, err := l.Import(ctx, strings.NewReader(input)); !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	sessions, err := l.Sessions(ctx)
	if err != nil || len(sessions) != 0 {
		t.Fatalf("partial import stored %d sessions (err %v)", len(sessions), err)
	}
}

func TestWriteCSV(t *testing.T) {
	t.Parallel()
	rows := []Row{
		{SessionID: "s1", LearnerName: `Ada "A"`, ProjectName: "Cells", InteractionID: "q1", Attempts: 2, Correct: true, TimeSpent: 1500 * time.Millisecond},
		{SessionID: "s1", LearnerName: `Ada "A"`, ProjectName: "Cells", InteractionID: "q,2", Skipped: true},
	}

	var single bytes.Buffer
	if err := WriteCSV(&single, rows, false); err != nil {
		t.Fatal(err)
	}
	wantSingle := "interactionId,attempts,skipped,correct,timeSpent\n" +
		`"q1",2,false,true,1500` + "\n" +
		`"q,2",0,true,false,0` + "\n"
	if single.String() != wantSingle {
		t.Fatalf("single-session csv:\n%s\nwant:\n%s", single.String(), wantSingle)
	}

	var all bytes.Buffer
	if err := WriteCSV(&all, rows[:1], true); err != nil {
		t.Fatal(err)
	}
	wantAll := "sessionId,studentName,projectName,interactionId,attempts,skipped,correct,timeSpent\n" +
		`"s1","Ada ""A""","Cells","q1",2,false,true,1500` + "\n"
	if all.String() != wantAll {
		t.Fatalf("all-sessions csv:\n%s\nwant:\n%s", all.String(), wantAll)
	}
}

func TestExportAllFlattensSessions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	seq := 0
	l, _ := newTestLedger(t, WithIDGenerator(func() string {
		seq++
		return fmt.Sprintf("s%d", seq)
	}))
	a := startSession(t, l, "Ada")
	b := startSession(t, l, "Bob")
	for _, sid := range []string{a.ID, b.ID} {
		if _, err := l.RecordAttempt(ctx, sid, "q1", domain.Delta{Attempts: 1}); err != nil {
			t.Fatal(err)
		}
	}
	rows, err := l.ExportAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0].ProjectName != project.Name {
		t.Fatalf("rows = %+v", rows)
	}
	one, err := l.ExportSession(ctx, "s2")
	if err != nil || len(one) != 1 || one[0].LearnerName != "Bob" {
		t.Fatalf("ExportSession = %+v %v", one, err)
	}
}
