// Package store holds the bounded, in-memory history of scans together with
// the issues and solutions derived from them.
package store

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/llamacompass/compass/internal/transform"
	"github.com/llamacompass/compass/pkg/types"
)

// DefaultCapacity is the number of scans kept before the oldest is evicted.
const DefaultCapacity = 10

var (
	// ErrIssueNotFound is returned when an issue id is not in the store.
	ErrIssueNotFound = errors.New("issue not found")
	// ErrInvalidStatus is returned for an unknown issue status.
	ErrInvalidStatus = errors.New("invalid issue status")
)

// Reader is the read side of the store handed to presentation code.
type Reader interface {
	ListScans() []types.ScanRecord
	ListIssues() []types.Issue
	ListSolutions() []types.Solution
	RecentIssues(n int) []types.Issue
	Snapshot() Snapshot
}

// Snapshot is a consistent, point-in-time copy of the store contents.
type Snapshot struct {
	Scans     []types.ScanRecord
	Issues    []types.Issue
	Solutions []types.Solution
}

// Stats are lifetime counters of store activity.
type Stats struct {
	Ingested   int
	Evicted    int
	Duplicates int
}

// IngestHook is called with every ingested scan after the store lock is
// released, before any eviction hook of the same Ingest call. Hooks of
// separate Ingest calls never interleave and run in ingest order. A hook may
// read the store but must not call Ingest.
type IngestHook func(ingested types.ScanRecord, duplicate bool)

// EvictionHook is called with every evicted scan after the store lock is released.
type EvictionHook func(evicted types.ScanRecord)

// Option configures a Store.
type Option func(*Store)

// WithCapacity overrides DefaultCapacity. Values below 1 are ignored.
func WithCapacity(capacity int) Option {
	return func(s *Store) {
		if capacity > 0 {
			s.capacity = capacity
		}
	}
}

// WithEvictionHook registers a hook run after each eviction.
func WithEvictionHook(hook EvictionHook) Option {
	return func(s *Store) {
		if hook != nil {
			s.hooks = append(s.hooks, hook)
		}
	}
}

// WithIngestHook registers a hook run after each ingest.
func WithIngestHook(hook IngestHook) Option {
	return func(s *Store) {
		if hook != nil {
			s.ingestHooks = append(s.ingestHooks, hook)
		}
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger types.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Store is the single owner of scan history and derived records. All
// mutations go through Ingest and UpdateIssueStatus, which hold the write lock
// for their whole duration.
type Store struct {
	// ingestMu orders whole Ingest calls, hooks included.
	ingestMu  sync.Mutex
	mu        sync.RWMutex
	capacity  int
	scans     []types.ScanRecord
	issues    []types.Issue
	solutions []types.Solution
	stats     Stats

	ingestHooks []IngestHook
	hooks       []EvictionHook
	logger      types.Logger
}

var _ Reader = (*Store)(nil)

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		capacity: DefaultCapacity,
		logger:   &types.MockLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Capacity returns the maximum number of scans held.
func (s *Store) Capacity() int {
	return s.capacity
}

// Ingest derives the records of a scan and appends scan and records in one
// step, evicting the oldest scan and everything derived from it once the
// capacity is exceeded.
func (s *Store) Ingest(record types.ScanRecord) {
	record = record.Clone()
	issues, solutions := transform.Transform(&record)

	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()

	s.mu.Lock()
	duplicate := s.indexOfScanLocked(record.ID) >= 0
	s.scans = append(s.scans, record)
	s.issues = append(s.issues, issues...)
	s.solutions = append(s.solutions, solutions...)
	s.stats.Ingested++
	if duplicate {
		s.stats.Duplicates++
	}

	var evicted []types.ScanRecord
	for len(s.scans) > s.capacity {
		evicted = append(evicted, s.evictOldestLocked())
	}
	scans, issueCount, solutionCount := len(s.scans), len(s.issues), len(s.solutions)
	s.mu.Unlock()

	if duplicate {
		s.logger.Warn("ingested scan with an id already in the store",
			zap.String("scanID", record.ID), zap.String("repository", record.RepositoryURL))
	}
	s.logger.Debug("ingested scan",
		zap.String("scanID", record.ID),
		zap.String("status", string(record.Status())),
		zap.Int("issues", len(issues)),
		zap.Int("solutions", len(solutions)),
		zap.Int("scans", scans),
		zap.Int("totalIssues", issueCount),
		zap.Int("totalSolutions", solutionCount))

	for _, hook := range s.ingestHooks {
		hook(record, duplicate)
	}
	for _, e := range evicted {
		s.logger.Info("evicted scan", zap.String("scanID", e.ID), zap.String("repository", e.RepositoryURL))
		for _, hook := range s.hooks {
			hook(e)
		}
	}
}

// evictOldestLocked drops the first scan and every record that references it.
func (s *Store) evictOldestLocked() types.ScanRecord {
	oldest := s.scans[0]
	s.scans[0] = types.ScanRecord{}
	s.scans = s.scans[1:]

	keptIssues := s.issues[:0]
	for _, issue := range s.issues {
		if issue.ScanID != oldest.ID {
			keptIssues = append(keptIssues, issue)
		}
	}
	clear(s.issues[len(keptIssues):])
	s.issues = keptIssues

	keptSolutions := s.solutions[:0]
	for _, solution := range s.solutions {
		if solution.ScanID != oldest.ID {
			keptSolutions = append(keptSolutions, solution)
		}
	}
	clear(s.solutions[len(keptSolutions):])
	s.solutions = keptSolutions

	s.stats.Evicted++
	return oldest
}

func (s *Store) indexOfScanLocked(id string) int {
	for i := range s.scans {
		if s.scans[i].ID == id {
			return i
		}
	}
	return -1
}

// UpdateIssueStatus moves an issue to a new triage status.
func (s *Store) UpdateIssueStatus(id string, status types.IssueStatus) (types.Issue, error) {
	if !status.Valid() {
		return types.Issue{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.issues {
		if s.issues[i].ID == id {
			s.issues[i].Status = status
			return copyIssue(s.issues[i]), nil
		}
	}
	return types.Issue{}, fmt.Errorf("%w: %s", ErrIssueNotFound, id)
}

// ListScans returns the stored scans, oldest first.
func (s *Store) ListScans() []types.ScanRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyScans(s.scans)
}

// ListIssues returns every stored issue in insertion order.
func (s *Store) ListIssues() []types.Issue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyIssues(s.issues)
}

// ListSolutions returns every stored solution in insertion order.
func (s *Store) ListSolutions() []types.Solution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySolutions(s.solutions)
}

// RecentIssues returns the last n issues, most recently ingested last.
func (s *Store) RecentIssues(n int) []types.Issue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 {
		return []types.Issue{}
	}
	start := len(s.issues) - n
	if start < 0 {
		start = 0
	}
	return copyIssues(s.issues[start:])
}

// Snapshot copies scans, issues and solutions under a single read lock.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Scans:     copyScans(s.scans),
		Issues:    copyIssues(s.issues),
		Solutions: copySolutions(s.solutions),
	}
}

// Size returns the current number of scans, issues and solutions.
func (s *Store) Size() (scans, issues, solutions int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.scans), len(s.issues), len(s.solutions)
}

// Stats returns the lifetime counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

func copyScans(in []types.ScanRecord) []types.ScanRecord {
	out := make([]types.ScanRecord, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}

func copyIssue(in types.Issue) types.Issue {
	if in.Line != nil {
		l := *in.Line
		in.Line = &l
	}
	return in
}

func copyIssues(in []types.Issue) []types.Issue {
	out := make([]types.Issue, len(in))
	for i := range in {
		out[i] = copyIssue(in[i])
	}
	return out
}

func copySolutions(in []types.Solution) []types.Solution {
	out := make([]types.Solution, len(in))
	for i, s := range in {
		s.Tags = append([]string{}, s.Tags...)
		out[i] = s
	}
	return out
}
