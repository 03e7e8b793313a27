package ratelimit

import (
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// keySets holds the allow/deny lists. A write to one side always removes
// the key from the other, keeping the sets disjoint (spec section 3's
// invariant).
type keySets struct {
	mu   sync.RWMutex
	allow map[string]struct{}
	deny  map[string]struct{}
}

func newKeySets() *keySets {
	return &keySets{allow: make(map[string]struct{}), deny: make(map[string]struct{})}
}

func (s *keySets) AddAllow(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.deny, key)
	s.allow[key] = struct{}{}
}

func (s *keySets) AddDeny(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.allow, key)
	s.deny[key] = struct{}{}
}

func (s *keySets) RemoveAllow(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.allow, key)
}

func (s *keySets) RemoveDeny(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.deny, key)
}

func (s *keySets) IsAllowed(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.allow[key]
	return ok
}

func (s *keySets) IsDenied(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.deny[key]
	return ok
}

func (s *keySets) Snapshot() (allow, deny []string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k := range s.allow {
		allow = append(allow, k)
	}
	for k := range s.deny {
		deny = append(deny, k)
	}
	return allow, deny
}

// listFile is the on-disk mirror of the allow/deny sets, written on every
// admin mutation so the lists survive a restart and can be hand-edited by an
// operator (watched with fsnotify by the caller for hot-reload).
type listFile struct {
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

// persistLists serializes the current sets to path. Failures are the
// caller's to log (spec section 7: persistence failure is logged at debug,
// never propagated to the client-facing operation).
func persistLists(path string, s *keySets) error {
	if path == "" {
		return nil
	}
	allow, deny := s.Snapshot()
	b, err := yaml.Marshal(listFile{Allow: allow, Deny: deny})
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// loadLists replaces s's contents with what's in path, if it exists. A
// missing file is not an error — it means no lists have been persisted yet.
// Called both at startup and on every fsnotify-triggered reload, so this
// must fully replace the in-memory sets rather than merge into them — an
// operator removing a key from the file while the process is running has to
// see that removal take effect, not just accumulate past additions.
func loadLists(path string, s *keySets) error {
	if path == "" {
		return nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var lf listFile
	if err := yaml.Unmarshal(b, &lf); err != nil {
		return err
	}
	allow := make(map[string]struct{}, len(lf.Allow))
	for _, k := range lf.Allow {
		allow[k] = struct{}{}
	}
	deny := make(map[string]struct{}, len(lf.Deny))
	for _, k := range lf.Deny {
		deny[k] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allow = allow
	s.deny = deny
	return nil
}
