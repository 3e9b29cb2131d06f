package sessions

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/CaptainPhantasy/floyd/pkg/models"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	return NewStore(t.TempDir(), nil, opts...)
}

func TestCreateImmediatelyAfterConstruction(t *testing.T) {
	// The directory is created asynchronously; Create must still work.
	store := newTestStore(t)
	sess, err := store.Create("/work")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if sess.ID == "" {
		t.Error("expected generated id")
	}
	if sess.WorkDir != "/work" {
		t.Errorf("WorkDir = %q", sess.WorkDir)
	}
	if _, err := store.Load(sess.ID); err != nil {
		t.Errorf("Load() after Create() error = %v", err)
	}
}

func TestSaveLoadRoundTripWithUnknownFields(t *testing.T) {
	store := newTestStore(t)
	sess, err := store.Create("")
	if err != nil {
		t.Fatal(err)
	}
	sess.Extra = map[string]json.RawMessage{"future": json.RawMessage(`{"v":2}`)}
	sess.Messages = append(sess.Messages, &models.Message{
		ID: "m1", Role: models.RoleUser, Content: "hello",
		CreatedAt: time.Now().UTC(),
		Extra:     map[string]json.RawMessage{"vendor": json.RawMessage(`"x"`)},
	})
	if err := store.Save(sess); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := store.Load(sess.ID)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if string(loaded.Extra["future"]) != `{"v":2}` {
		t.Error("session unknown field lost")
	}
	if string(loaded.Messages[0].Extra["vendor"]) != `"x"` {
		t.Error("message unknown field lost")
	}

	// Saving the loaded record again is byte-stable.
	first, err := os.ReadFile(storePath(store, sess.ID))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Save(loaded); err != nil {
		t.Fatal(err)
	}
	second, err := os.ReadFile(storePath(store, sess.ID))
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Error("save/load/save is not byte-stable")
	}
}

func storePath(s *Store, id string) string {
	return s.path(id)
}

func TestLoadNotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Load("missing"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("Load(missing) error = %v, want not found", err)
	}
}

func TestListOrdering(t *testing.T) {
	store := newTestStore(t)
	var ids []string
	for i := 0; i < 3; i++ {
		sess, err := store.Create("")
		if err != nil {
			t.Fatal(err)
		}
		sess.UpdatedAt = time.Now().Add(time.Duration(i) * time.Hour)
		if err := store.Save(sess); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, sess.ID)
	}

	summaries, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 3 {
		t.Fatalf("expected 3 summaries, got %d", len(summaries))
	}
	// Most recently updated first.
	if summaries[0].ID != ids[2] || summaries[2].ID != ids[0] {
		t.Errorf("wrong order: %+v", summaries)
	}
}

func TestSessionCapEvictsOldest(t *testing.T) {
	store := newTestStore(t, WithMaxSessions(3))
	var oldest string
	for i := 0; i < 3; i++ {
		sess, err := store.Create("")
		if err != nil {
			t.Fatal(err)
		}
		sess.UpdatedAt = time.Now().Add(time.Duration(i-10) * time.Hour)
		if err := store.Save(sess); err != nil {
			t.Fatal(err)
		}
		if i == 0 {
			oldest = sess.ID
		}
	}

	if _, err := store.Create(""); err != nil {
		t.Fatal(err)
	}
	summaries, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 3 {
		t.Errorf("expected cap of 3, got %d sessions", len(summaries))
	}
	for _, s := range summaries {
		if s.ID == oldest {
			t.Error("oldest session should have been evicted")
		}
	}
}

func TestAppendMessageInfersTitle(t *testing.T) {
	store := newTestStore(t)
	sess, err := store.Create("")
	if err != nil {
		t.Fatal(err)
	}

	long := "Please summarize the quarterly report and highlight the revenue trends"
	if err := store.AppendMessage(sess, &models.Message{Role: models.RoleUser, Content: long}); err != nil {
		t.Fatal(err)
	}
	if sess.Title == "" {
		t.Fatal("expected inferred title")
	}
	if !strings.HasSuffix(sess.Title, "…") {
		t.Errorf("expected ellipsis on shortened title: %q", sess.Title)
	}
	if len([]rune(sess.Title)) > 41 {
		t.Errorf("title too long: %q", sess.Title)
	}
	if strings.HasSuffix(strings.TrimSuffix(sess.Title, "…"), " ") {
		t.Errorf("title not trimmed on word boundary: %q", sess.Title)
	}

	// Title is set once.
	if err := store.AppendMessage(sess, &models.Message{Role: models.RoleUser, Content: "second"}); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(sess.Title, "Please summarize") {
		t.Errorf("title should not change: %q", sess.Title)
	}
}

func TestInferTitleShortPrompt(t *testing.T) {
	if got := inferTitle("Hi there"); got != "Hi there" {
		t.Errorf("inferTitle() = %q", got)
	}
	if got := inferTitle("  spaced   out  "); got != "spaced out" {
		t.Errorf("inferTitle() = %q", got)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	sess, err := store.Create("")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(sess.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := store.Delete(sess.ID); err != nil {
		t.Errorf("second Delete() error = %v", err)
	}
	if _, err := store.Load(sess.ID); err == nil {
		t.Error("expected Load() to fail after delete")
	}
}

func TestConcurrentSavesOfDistinctSessions(t *testing.T) {
	store := newTestStore(t)
	const n = 8
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			sess, err := store.Create("")
			if err == nil {
				err = store.AppendMessage(sess, &models.Message{
					Role: models.RoleUser, Content: fmt.Sprintf("prompt %d", i),
				})
			}
			errs <- err
		}(i)
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("concurrent use error = %v", err)
		}
	}
	summaries, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != n {
		t.Errorf("expected %d sessions, got %d", n, len(summaries))
	}
}
