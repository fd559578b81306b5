package oskeyring

import (
	"errors"
	"fmt"
	"sync"

	keyringlib "github.com/zalando/go-keyring"
)

// ServicePrefix namespaces every keyring service written by gistbackup.
const ServicePrefix = "gistbackup"

// ErrNotFound is returned by Get when the requested secret is not found.
var ErrNotFound = errors.New("secret not found in keyring")

// Service defines an interface for interacting with the operating system's keyring.
// Secrets are addressed by a service namespace and a user key inside it.
type Service interface {
	// Get retrieves a secret for a given service and user.
	// It returns ErrNotFound if the secret is not found.
	Get(service, user string) (string, error)
	// Set stores a secret for a given service and user, replacing any previous value.
	Set(service, user, password string) error
	// Delete removes a secret for a given service and user.
	// It does not return an error if the secret does not exist.
	Delete(service, user string) error
	// DeleteAll removes every secret stored under service.
	DeleteAll(service string) error
}

// AccountService returns the keyring namespace holding the auxiliary keys of one account slot.
func AccountService(accountID string) string {
	return ServicePrefix + "/" + accountID
}

// DefaultService is backed by the zalando/go-keyring library.
type DefaultService struct{}

// NewDefaultService creates a new DefaultService.
func NewDefaultService() *DefaultService {
	return &DefaultService{}
}

func (s *DefaultService) Get(service, user string) (string, error) {
	secret, err := keyringlib.Get(service, user)
	if err != nil {
		if errors.Is(err, keyringlib.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to get secret from OS keyring: %w", err)
	}
	return secret, nil
}

func (s *DefaultService) Set(service, user, password string) error {
	if err := keyringlib.Set(service, user, password); err != nil {
		return fmt.Errorf("failed to store secret in OS keyring: %w", err)
	}
	return nil
}

func (s *DefaultService) Delete(service, user string) error {
	err := keyringlib.Delete(service, user)
	if err != nil && !errors.Is(err, keyringlib.ErrNotFound) {
		return fmt.Errorf("failed to delete secret from OS keyring: %w", err)
	}
	return nil
}

func (s *DefaultService) DeleteAll(service string) error {
	if service == "" {
		return errors.New("refusing to delete an empty keyring service")
	}
	if err := keyringlib.DeleteAll(service); err != nil {
		return fmt.Errorf("failed to clear OS keyring service %s: %w", service, err)
	}
	return nil
}

var _ Service = (*DefaultService)(nil)

// MemoryService is an in-memory implementation of the Service interface for testing.
type MemoryService struct {
	mu    sync.RWMutex
	store map[string]map[string]string // service -> user -> secret
}

// NewMemoryService creates a new MemoryService.
func NewMemoryService() *MemoryService {
	return &MemoryService{
		store: make(map[string]map[string]string),
	}
}

func (s *MemoryService) Get(service, user string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if users, ok := s.store[service]; ok {
		if secret, ok := users[user]; ok {
			return secret, nil
		}
	}
	return "", ErrNotFound
}

func (s *MemoryService) Set(service, user, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.store[service]; !ok {
		s.store[service] = make(map[string]string)
	}
	s.store[service][user] = password
	return nil
}

func (s *MemoryService) Delete(service, user string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if users, ok := s.store[service]; ok {
		delete(users, user)
		if len(users) == 0 {
			delete(s.store, service)
		}
	}
	return nil
}

func (s *MemoryService) DeleteAll(service string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.store, service)
	return nil
}

// Len reports how many secrets are stored under service.
func (s *MemoryService) Len(service string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.store[service])
}

var _ Service = (*MemoryService)(nil)
