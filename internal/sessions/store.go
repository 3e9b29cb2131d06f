// Package sessions persists conversations as one JSON file per session under
// a sessions/ directory.
package sessions

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CaptainPhantasy/floyd/internal/agenterr"
	"github.com/CaptainPhantasy/floyd/pkg/models"
)

// ErrNotFound is returned by Load for unknown session ids.
var ErrNotFound = errors.New("session not found")

// DefaultMaxSessions caps how many session files are kept on disk. Create
// evicts the oldest by last-updated beyond the cap.
const DefaultMaxSessions = 100

const titleLimit = 40

// Summary is one row of List output.
type Summary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store owns the sessions directory. Construction only schedules directory
// creation; every public method waits for that to finish first, so a Create
// issued immediately after NewStore behaves the same as one issued later.
type Store struct {
	dir    string
	max    int
	logger *slog.Logger

	ready    chan struct{}
	readyErr error

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option adjusts store construction.
type Option func(*Store)

// WithMaxSessions overrides the on-disk session cap.
func WithMaxSessions(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.max = n
		}
	}
}

// NewStore builds a store rooted at dir/sessions.
func NewStore(dir string, logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		dir:    filepath.Join(dir, "sessions"),
		max:    DefaultMaxSessions,
		logger: logger.With("component", "sessions"),
		ready:  make(chan struct{}),
		locks:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	go func() {
		s.readyErr = os.MkdirAll(s.dir, 0o755)
		close(s.ready)
	}()
	return s
}

func (s *Store) awaitReady() error {
	<-s.ready
	if s.readyErr != nil {
		return agenterr.New(agenterr.KindStorage, "sessions.init", s.readyErr)
	}
	return nil
}

func (s *Store) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[id]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.locks[id] = l
	return l
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Create makes a new empty session and persists it. The on-disk cap is
// enforced here: the oldest sessions by last-updated are deleted first.
func (s *Store) Create(cwd string) (*models.Session, error) {
	if err := s.awaitReady(); err != nil {
		return nil, err
	}
	if err := s.enforceCap(); err != nil {
		s.logger.Warn("session cap enforcement failed", "error", err)
	}
	now := time.Now().UTC()
	sess := &models.Session{
		ID:        uuid.NewString(),
		WorkDir:   cwd,
		Messages:  []*models.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Save(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Load reads one session. Unknown ids yield ErrNotFound.
func (s *Store) Load(id string) (*models.Session, error) {
	if err := s.awaitReady(); err != nil {
		return nil, err
	}
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, agenterr.New(agenterr.KindStorage, "sessions.load", err)
	}
	var sess models.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, agenterr.New(agenterr.KindStorage, "sessions.load", err)
	}
	return &sess, nil
}

// Save atomically replaces the persisted record: write to a temp sibling,
// then rename over the target.
func (s *Store) Save(sess *models.Session) error {
	if err := s.awaitReady(); err != nil {
		return err
	}
	lock := s.lockFor(sess.ID)
	lock.Lock()
	defer lock.Unlock()

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return agenterr.New(agenterr.KindStorage, "sessions.save", err)
	}
	data = append(data, '\n')

	target := s.path(sess.ID)
	tmp, err := os.CreateTemp(s.dir, sess.ID+".*.tmp")
	if err != nil {
		return agenterr.New(agenterr.KindStorage, "sessions.save", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return agenterr.New(agenterr.KindStorage, "sessions.save", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return agenterr.New(agenterr.KindStorage, "sessions.save", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return agenterr.New(agenterr.KindStorage, "sessions.save", err)
	}
	return nil
}

// List returns summaries ordered by last-updated descending. Unreadable files
// are skipped with a warning.
func (s *Store) List() ([]Summary, error) {
	if err := s.awaitReady(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, agenterr.New(agenterr.KindStorage, "sessions.list", err)
	}
	var out []Summary
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			s.logger.Warn("skipping unreadable session file", "file", name, "error", err)
			continue
		}
		var sess models.Session
		if err := json.Unmarshal(data, &sess); err != nil {
			s.logger.Warn("skipping malformed session file", "file", name, "error", err)
			continue
		}
		out = append(out, Summary{ID: sess.ID, Title: sess.Title, UpdatedAt: sess.UpdatedAt})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// Delete removes one session file. Deleting an unknown id is a no-op.
func (s *Store) Delete(id string) error {
	if err := s.awaitReady(); err != nil {
		return err
	}
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return agenterr.New(agenterr.KindStorage, "sessions.delete", err)
	}
	s.mu.Lock()
	delete(s.locks, id)
	s.mu.Unlock()
	return nil
}

// AppendMessage appends msg, infers a title from the first user message,
// bumps the timestamp, and persists.
func (s *Store) AppendMessage(sess *models.Session, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	sess.Messages = append(sess.Messages, msg)
	if sess.Title == "" && msg.Role == models.RoleUser {
		sess.Title = inferTitle(msg.TextContent())
	}
	sess.UpdatedAt = time.Now().UTC()
	return s.Save(sess)
}

func (s *Store) enforceCap() error {
	summaries, err := s.List()
	if err != nil {
		return err
	}
	if len(summaries) < s.max {
		return nil
	}
	// summaries are updated-descending; evict from the tail.
	excess := len(summaries) - s.max + 1
	for _, victim := range summaries[len(summaries)-excess:] {
		s.logger.Info("evicting session beyond cap", "session_id", victim.ID)
		if err := s.Delete(victim.ID); err != nil {
			return err
		}
	}
	return nil
}

// inferTitle takes the first ~40 characters of the prompt, trimmed on a word
// boundary, with an ellipsis when shortened.
func inferTitle(text string) string {
	text = strings.TrimSpace(text)
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= titleLimit {
		return text
	}
	cut := string(runes[:titleLimit])
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "…"
}
