package store

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-go-golems/llm-eval/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const maxLineSize = 16 * 1024 * 1024

// SkippedLine describes a line of the records file that could not be loaded.
// Raw is kept so the line survives the next rewrite of the file.
type SkippedLine struct {
	Line int
	Err  error
	Raw  []byte
}

type LoadReport struct {
	Loaded  int
	Skipped []SkippedLine
}

// Stats are the per-user counters shown on the account page.
type Stats struct {
	Records       int `json:"records"`
	Conversations int `json:"conversations"`
	WithFeedback  int `json:"with_feedback"`
}

// FileRecordStore persists conversation records as line-delimited JSON, one
// record per line. Records live in memory and only reach disk on Persist.
// Lines skipped on load are written back verbatim after the records, so a
// lenient load never loses data.
//
// The lock only protects against concurrent use inside one process. Two
// processes writing the same file will overwrite each other.
type FileRecordStore struct {
	mu         sync.RWMutex
	path       string
	strict     bool
	store      *InMemoryRecordStore
	lastReport LoadReport
	lastWrite  time.Time
}

type Option func(*FileRecordStore)

// WithStrictLoad makes Load fail on the first malformed line instead of
// skipping it.
func WithStrictLoad(strict bool) Option {
	return func(s *FileRecordStore) {
		s.strict = strict
	}
}

// NewFileRecordStore creates the store and loads path. A missing file yields
// an empty store.
func NewFileRecordStore(path string, options ...Option) (*FileRecordStore, error) {
	if path == "" {
		return nil, errors.New("records file path is required")
	}
	s := &FileRecordStore{
		path:  path,
		store: NewInMemoryRecordStore(),
	}
	for _, o := range options {
		o(s)
	}
	if _, err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileRecordStore) Path() string {
	return s.path
}

// Load replaces the in-memory records with the content of the file.
// Malformed lines are skipped with a warning unless the store is strict, in
// which case the store is left untouched and the error is returned.
func (s *FileRecordStore) Load() (LoadReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadFromDiskLocked()
}

func (s *FileRecordStore) loadFromDiskLocked() (LoadReport, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.store = NewInMemoryRecordStore()
			s.lastReport = LoadReport{}
			return s.lastReport, nil
		}
		return LoadReport{}, errors.Wrapf(err, "could not open records file %s", s.path)
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	store, report, err := readRecords(f, s.strict)
	if err != nil {
		return report, errors.Wrapf(err, "could not load %s", s.path)
	}
	for _, skipped := range report.Skipped {
		log.Warn().
			Str("path", s.path).
			Int("line", skipped.Line).
			Err(skipped.Err).
			Msg("Skipping malformed conversation record")
	}
	log.Debug().
		Str("path", s.path).
		Int("loaded", report.Loaded).
		Int("skipped", len(report.Skipped)).
		Msg("Loaded conversation records")

	s.store = store
	s.lastReport = report
	return report, nil
}

func readRecords(r io.Reader, strict bool) (*InMemoryRecordStore, LoadReport, error) {
	store := NewInMemoryRecordStore()
	report := LoadReport{}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		rec, err := conversation.ParseRecordLine(line)
		if err != nil {
			if strict {
				return nil, report, errors.Wrapf(err, "line %d", lineNo)
			}
			raw := append([]byte{}, line...)
			report.Skipped = append(report.Skipped, SkippedLine{Line: lineNo, Err: err, Raw: raw})
			continue
		}
		store.Upsert(rec)
		report.Loaded++
	}
	if err := scanner.Err(); err != nil {
		return nil, report, errors.Wrapf(conversation.ErrMalformedRecord, "line %d: %v", lineNo+1, err)
	}
	return store, report, nil
}

// LastLoadReport returns what the most recent Load did.
func (s *FileRecordStore) LastLoadReport() LoadReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastReport
}

func (s *FileRecordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.Len()
}

// ListUsers returns the distinct owners, sorted. Records saved without a
// user show up as the empty user, which sorts first.
func (s *FileRecordStore) ListUsers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.users()
}

func (s *FileRecordStore) GetByID(id string) (*conversation.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.store.Get(id)
	if !ok {
		return nil, errors.Wrapf(conversation.ErrNotFound, "id %s", id)
	}
	return r, nil
}

// GetByTitle returns the first record with the given title. Titles are not
// unique, so prefer GetByID.
func (s *FileRecordStore) GetByTitle(title string) (*conversation.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ret *conversation.Record
	s.store.each(func(r *conversation.Record) bool {
		if r.Title == title {
			ret = r.Clone()
			return false
		}
		return true
	})
	if ret == nil {
		return nil, errors.Wrapf(conversation.ErrNotFound, "title %q", title)
	}
	return ret, nil
}

func (s *FileRecordStore) ListConversationsByUser(user string) []conversation.IDTitle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ret := []conversation.IDTitle{}
	s.store.each(func(r *conversation.Record) bool {
		if r.User == user {
			ret = append(ret, conversation.IDTitle{ID: r.ID, Title: r.Title})
		}
		return true
	})
	return ret
}

// ListRecords returns copies of all records, optionally restricted to user.
func (s *FileRecordStore) ListRecords(user *string) []*conversation.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ret := []*conversation.Record{}
	s.store.each(func(r *conversation.Record) bool {
		if user == nil || r.User == *user {
			ret = append(ret, r.Clone())
		}
		return true
	})
	return ret
}

// GetAllConversations flattens the conversations of every record, optionally
// restricted to the records owned by user. The result is a copy.
func (s *FileRecordStore) GetAllConversations(user *string) []*conversation.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ret := []*conversation.Conversation{}
	s.store.each(func(r *conversation.Record) bool {
		if user != nil && r.User != *user {
			return true
		}
		for _, c := range r.Conversations {
			ret = append(ret, c.Clone())
		}
		return true
	})
	return ret
}

func (s *FileRecordStore) Stats(user *string) Stats {
	ret := Stats{}
	for _, r := range s.ListRecords(user) {
		ret.Records++
		for _, c := range r.Conversations {
			ret.Conversations++
			if c.HasFeedback() {
				ret.WithFeedback++
			}
		}
	}
	return ret
}

// AddOrUpdate upserts a copy of r by id. There is no merge and no version
// check, the last writer wins. With persist set the whole file is rewritten.
func (s *FileRecordStore) AddOrUpdate(r *conversation.Record, persist bool) error {
	if r == nil {
		return errors.New("cannot store nil record")
	}
	if err := r.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.Upsert(r)
	if persist {
		return s.persistLocked()
	}
	return nil
}

func (s *FileRecordStore) Delete(id string, persist bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.store.Delete(id) {
		return errors.Wrapf(conversation.ErrNotFound, "id %s", id)
	}
	if persist {
		return s.persistLocked()
	}
	return nil
}

// Persist rewrites the backing file with every record, one per line.
func (s *FileRecordStore) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

func (s *FileRecordStore) persistLocked() error {
	var buf bytes.Buffer
	if err := writeRecords(&buf, s.store, nil); err != nil {
		return err
	}
	for _, skipped := range s.lastReport.Skipped {
		buf.Write(skipped.Raw)
		buf.WriteByte('\n')
	}
	if len(s.lastReport.Skipped) > 0 {
		log.Warn().
			Str("path", s.path).
			Int("lines", len(s.lastReport.Skipped)).
			Msg("Keeping malformed lines in records file")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "could not create %s", dir)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "could not create temporary records file")
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "could not write records")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "could not sync records")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "could not close records file")
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return errors.Wrapf(err, "could not replace %s", s.path)
	}

	if fi, err := os.Stat(s.path); err == nil {
		s.lastWrite = fi.ModTime()
	}
	log.Debug().Str("path", s.path).Int("records", s.store.Len()).Msg("Persisted conversation records")
	return nil
}

func writeRecords(w io.Writer, store *InMemoryRecordStore, ids []string) error {
	write := func(r *conversation.Record) error {
		b, err := r.ToJSON()
		if err != nil {
			return err
		}
		b = append(b, '\n')
		_, err = w.Write(b)
		return err
	}

	if len(ids) == 0 {
		var err error
		store.each(func(r *conversation.Record) bool {
			err = write(r)
			return err == nil
		})
		return err
	}

	for _, id := range ids {
		r, ok := store.records[id]
		if !ok {
			return errors.Wrapf(conversation.ErrNotFound, "id %s", id)
		}
		if err := write(r); err != nil {
			return err
		}
	}
	return nil
}

// Export writes the selected records as line-delimited JSON. With no ids
// every record is written.
func (s *FileRecordStore) Export(w io.Writer, ids ...string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return writeRecords(w, s.store, ids)
}

// ExportUser writes every record owned by user.
func (s *FileRecordStore) ExportUser(w io.Writer, user string) error {
	entries := s.ListConversationsByUser(user)
	if len(entries) == 0 {
		return nil
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	return s.Export(w, ids...)
}

// Import upserts every record read from r, using the same parsing rules as
// Load.
func (s *FileRecordStore) Import(r io.Reader, persist bool) (LoadReport, error) {
	imported, report, err := readRecords(r, s.strict)
	if err != nil {
		return report, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	imported.each(func(r *conversation.Record) bool {
		s.store.Upsert(r)
		return true
	})
	if persist {
		return report, s.persistLocked()
	}
	return report, nil
}
