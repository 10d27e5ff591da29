package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/loopwork-ai/governor/pkg/scanner"
)

// MemoryStore is a thread-safe in-memory Store for tests and single-node
// deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	skills   map[string]map[string]*Skill
	rejected map[string][]scanner.Violation
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		skills:   make(map[string]map[string]*Skill),
		rejected: make(map[string][]scanner.Violation),
	}
}

func (s *MemoryStore) Put(ctx context.Context, skill *Skill) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions, ok := s.skills[skill.Name]
	if !ok {
		versions = make(map[string]*Skill)
		s.skills[skill.Name] = versions
	}
	cp := *skill
	versions[skill.Version] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, name string) (*Skill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions, ok := s.skills[name]
	if !ok || len(versions) == 0 {
		return nil, ErrSkillNotFound
	}

	var best *Skill
	var bestVer *semver.Version
	for verStr, skill := range versions {
		v, err := semver.NewVersion(verStr)
		if err != nil {
			continue
		}
		if bestVer == nil || v.GreaterThan(bestVer) {
			bestVer = v
			best = skill
		}
	}
	if best == nil {
		return nil, ErrSkillNotFound
	}
	cp := *best
	return &cp, nil
}

func (s *MemoryStore) GetVersion(ctx context.Context, name, version string) (*Skill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	skill, ok := s.skills[name][version]
	if !ok {
		return nil, ErrSkillNotFound
	}
	cp := *skill
	return &cp, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*Skill, error) {
	s.mu.RLock()
	names := make([]string, 0, len(s.skills))
	for name := range s.skills {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)

	list := make([]*Skill, 0, len(names))
	for _, name := range names {
		skill, err := s.Get(ctx, name)
		if err != nil {
			continue
		}
		list = append(list, skill)
	}
	return list, nil
}

func (s *MemoryStore) RecordRejection(ctx context.Context, contentHash string, violations []scanner.Violation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rejected[contentHash]; !ok {
		s.rejected[contentHash] = violations
	}
	return nil
}

func (s *MemoryStore) IsHashRejected(ctx context.Context, contentHash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rejected[contentHash]
	return ok, nil
}
