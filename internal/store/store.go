// Package store owns the local problem statement: the authoritative document that every
// entity view is derived from. All writes go through the atomic YAML writer.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/msageha/psstudio/internal/logging"
	"github.com/msageha/psstudio/internal/model"
	yamlutil "github.com/msageha/psstudio/internal/yaml"
	yamlv3 "gopkg.in/yaml.v3"
)

// MetaPrefix keys survive property replacement.
const MetaPrefix = "__meta_data"

type Options struct {
	// Path of the workspace document; empty keeps the store in memory.
	Path         string
	WorkspaceDir string
	Width        int
	Height       int
	Logger       *logging.Logger
	// Observe is told about every successful mutation.
	Observe func(op string)
}

type document struct {
	yamlutil.SchemaHeader `yaml:",inline"`
	Width                 int          `yaml:"width"`
	Height                int          `yaml:"height"`
	ProblemStatement      model.Values `yaml:"problem_statement"`
}

// Store is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	width    int
	height   int
	ps       model.Values
	lastHash yamlutil.Digest

	opts Options
	log  *logging.Logger
}

func Open(opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Width <= 0 {
		opts.Width = 10
	}
	if opts.Height <= 0 {
		opts.Height = 10
	}
	s := &Store{
		width:  opts.Width,
		height: opts.Height,
		ps:     model.DefaultProblemStatement(),
		opts:   opts,
		log:    opts.Logger,
	}
	if opts.Path == "" {
		return s, nil
	}

	err := s.load()
	var corrupt *yamlutil.CorruptError
	switch {
	case err == nil:
		return s, nil
	case errors.Is(err, os.ErrNotExist):
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := s.persistLocked(s.ps, s.width, s.height); err != nil {
			return nil, err
		}
		return s, nil
	case errors.As(err, &corrupt):
		dir := opts.WorkspaceDir
		if dir == "" {
			dir = filepath.Dir(opts.Path)
		}
		rec, rerr := yamlutil.RecoverCorruptedFile(dir, opts.Path, yamlutil.FileTypeWorkspace)
		if rerr != nil {
			return nil, fmt.Errorf("recover workspace: %w", rerr)
		}
		s.log.Warn("recovered corrupt workspace file=%s via=%s err=%v", opts.Path, rec, corrupt.Err)
		if err := s.load(); err != nil {
			return nil, fmt.Errorf("load recovered workspace: %w", err)
		}
		return s, nil
	default:
		return nil, err
	}
}

func (s *Store) load() error {
	var doc document
	content, err := yamlutil.ReadDocument(s.opts.Path, yamlutil.FileTypeWorkspace, &doc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apply(doc)
	s.lastHash = yamlutil.Sum(content)
	return nil
}

func (s *Store) apply(doc document) {
	ps := model.NormalizeValues(doc.ProblemStatement)
	if ps == nil {
		ps = model.Values{}
	}
	for k, v := range model.DefaultProblemStatement() {
		if _, ok := ps[k]; !ok {
			ps[k] = v
		}
	}
	s.ps = ps
	if doc.Width > 0 {
		s.width = doc.Width
	}
	if doc.Height > 0 {
		s.height = doc.Height
	}
}

// ReloadIfChanged re-reads the workspace file when its content differs from the last
// version this store wrote or read.
func (s *Store) ReloadIfChanged() (bool, error) {
	if s.opts.Path == "" {
		return false, nil
	}
	content, err := os.ReadFile(s.opts.Path)
	if err != nil {
		return false, fmt.Errorf("read workspace: %w", err)
	}
	sum := yamlutil.Sum(content)

	s.mu.Lock()
	defer s.mu.Unlock()
	if sum == s.lastHash {
		return false, nil
	}
	if err := yamlutil.ValidateSchemaHeaderFromBytes(content, yamlutil.FileTypeWorkspace); err != nil {
		return false, &yamlutil.CorruptError{Path: s.opts.Path, Err: err}
	}
	var doc document
	if err := yamlv3.Unmarshal(content, &doc); err != nil {
		return false, &yamlutil.CorruptError{Path: s.opts.Path, Err: err}
	}
	s.apply(doc)
	s.lastHash = sum
	s.log.Info("workspace reloaded from disk")
	return true, nil
}

func (s *Store) persistLocked(ps model.Values, width, height int) error {
	if s.opts.Path == "" {
		return nil
	}
	doc := document{
		SchemaHeader:     yamlutil.NewHeader(yamlutil.FileTypeWorkspace),
		Width:            width,
		Height:           height,
		ProblemStatement: ps,
	}
	content, err := yamlv3.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal workspace: %w", err)
	}
	sum, err := yamlutil.AtomicWriteRaw(s.opts.Path, content)
	if err != nil {
		return fmt.Errorf("persist workspace: %w", err)
	}
	s.lastHash = sum
	return nil
}

// mutate applies fn to a copy of the statement and publishes it only if fn and the write
// both succeed.
func (s *Store) mutate(op string, fn func(ps model.Values) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.ps.Clone()
	if err := fn(next); err != nil {
		return err
	}
	if err := s.persistLocked(next, s.width, s.height); err != nil {
		return err
	}
	s.ps = next
	if s.opts.Observe != nil {
		s.opts.Observe(op)
	}
	return nil
}

// Warehouse returns a copy of the solve input.
func (s *Store) Warehouse() model.Warehouse {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.Warehouse{Width: s.width, Height: s.height, ProblemStatement: s.ps.Clone()}
}

func (s *Store) ProblemStatement() model.Values {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ps.Clone()
}

func (s *Store) GridSize() (int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.width, s.height
}

func (s *Store) SetGridSize(width, height int) error {
	if width <= 0 || height <= 0 {
		return model.ValidationError{Field: "grid", Message: fmt.Sprintf("invalid grid size %dx%d", width, height)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persistLocked(s.ps, width, height); err != nil {
		return err
	}
	s.width, s.height = width, height
	return nil
}

// UpdateProblemStatement replaces the whole document.
func (s *Store) UpdateProblemStatement(ps model.Values) error {
	if ps == nil {
		return model.ValidationError{Field: "problem_statement", Message: "problem statement is required"}
	}
	return s.mutate("update_problem_statement", func(cur model.Values) error {
		for k := range cur {
			delete(cur, k)
		}
		for k, v := range model.NormalizeValues(ps.Clone()) {
			cur[k] = v
		}
		return nil
	})
}

// ClearAll resets the statement to its empty default.
func (s *Store) ClearAll() error {
	return s.mutate("clear", func(cur model.Values) error {
		for k := range cur {
			delete(cur, k)
		}
		for k, v := range model.DefaultProblemStatement() {
			cur[k] = v
		}
		return nil
	})
}

func mergeMeta(existing, next model.Values) model.Values {
	out := next.Clone()
	if out == nil {
		out = model.Values{}
	}
	for k, v := range existing {
		if strings.HasPrefix(k, MetaPrefix) {
			if _, ok := out[k]; !ok {
				out[k] = model.CloneValue(v)
			}
		}
	}
	return out
}
