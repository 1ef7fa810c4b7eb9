package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	goLinkAuth "github.com/MrEthical07/goLinkAuth"
)

// AdminRole is the role counted by CountAdministrators unless overridden.
const AdminRole = "admin"

var ErrDuplicatePrincipal = errors.New("duplicate principal")

type fileEntry struct {
	ID           string   `toml:"id"`
	Email        string   `toml:"email"`
	Username     string   `toml:"username"`
	Roles        []string `toml:"roles"`
	PasswordHash string   `toml:"password_hash"`
}

type file struct {
	AdminRole  string      `toml:"admin_role"`
	Principals []fileEntry `toml:"principal"`
}

// Static is a concurrency-safe in-memory directory.
type Static struct {
	mu        sync.RWMutex
	adminRole string
	byID      map[string]goLinkAuth.Principal
	byEmail   map[string]string
	byName    map[string]string
}

func NewStatic() *Static {
	return &Static{
		adminRole: AdminRole,
		byID:      make(map[string]goLinkAuth.Principal),
		byEmail:   make(map[string]string),
		byName:    make(map[string]string),
	}
}

// LoadFile reads principals from a TOML file.
func LoadFile(path string) (*Static, error) {
	var f file
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("decode directory file: %w", err)
	}

	s := NewStatic()
	if f.AdminRole != "" {
		s.adminRole = f.AdminRole
	}
	for _, e := range f.Principals {
		err := s.Add(goLinkAuth.Principal{
			ID:           e.ID,
			Email:        e.Email,
			Username:     e.Username,
			Roles:        e.Roles,
			PasswordHash: e.PasswordHash,
		})
		if err != nil {
			return nil, fmt.Errorf("directory file %s: %w", path, err)
		}
	}
	return s, nil
}

// Add registers p. IDs, emails (case-insensitive) and usernames must be
// unique.
func (s *Static) Add(p goLinkAuth.Principal) error {
	if p.ID == "" {
		return errors.New("principal id is required")
	}
	email := strings.ToLower(strings.TrimSpace(p.Email))

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[p.ID]; ok {
		return fmt.Errorf("%w: id %q", ErrDuplicatePrincipal, p.ID)
	}
	if email != "" {
		if _, ok := s.byEmail[email]; ok {
			return fmt.Errorf("%w: email %q", ErrDuplicatePrincipal, p.Email)
		}
	}
	if p.Username != "" {
		if _, ok := s.byName[p.Username]; ok {
			return fmt.Errorf("%w: username %q", ErrDuplicatePrincipal, p.Username)
		}
	}

	p.Roles = append([]string(nil), p.Roles...)
	s.byID[p.ID] = p
	if email != "" {
		s.byEmail[email] = p.ID
	}
	if p.Username != "" {
		s.byName[p.Username] = p.ID
	}
	return nil
}

// ResolvePrincipal matches emails case-insensitively and usernames exactly.
func (s *Static) ResolvePrincipal(_ context.Context, identifier string) (*goLinkAuth.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[strings.ToLower(strings.TrimSpace(identifier))]
	if !ok {
		id, ok = s.byName[identifier]
	}
	if !ok {
		return nil, goLinkAuth.ErrUnknownPrincipal
	}
	return s.copyOf(id), nil
}

func (s *Static) PrincipalByID(_ context.Context, id string) (*goLinkAuth.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.byID[id]; !ok {
		return nil, goLinkAuth.ErrUnknownPrincipal
	}
	return s.copyOf(id), nil
}

func (s *Static) CountAdministrators(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, p := range s.byID {
		for _, r := range p.Roles {
			if r == s.adminRole {
				n++
				break
			}
		}
	}
	return n, nil
}

// UpdatePasswordHash replaces the stored hash of an existing principal.
func (s *Static) UpdatePasswordHash(_ context.Context, principalID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[principalID]
	if !ok {
		return goLinkAuth.ErrUnknownPrincipal
	}
	p.PasswordHash = hash
	s.byID[principalID] = p
	return nil
}

func (s *Static) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *Static) copyOf(id string) *goLinkAuth.Principal {
	p := s.byID[id]
	p.Roles = append([]string(nil), p.Roles...)
	return &p
}
