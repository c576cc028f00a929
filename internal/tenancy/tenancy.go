// Package tenancy resolves clinics and their users from configuration.
// Tenants are declared statically; API key secrets exist only as bcrypt
// hashes, so a leaked config file does not leak credentials.
package tenancy

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/hearcrm/assistant-svc/internal/config"
	"github.com/hearcrm/assistant-svc/internal/registry"
)

// KeyPrefix marks assistant API keys: hrc_<key_id>.<secret>.
const KeyPrefix = "hrc_"

var (
	ErrTenantNotFound = errors.New("tenant not found")
	ErrInvalidKey     = errors.New("invalid api key")
)

// Tenant is one clinic with its users and credentials.
type Tenant struct {
	ID     string
	Name   string
	Status string

	// permissions per user id
	users map[string][]string

	// bcrypt secret hash per key id
	keys map[string]string
}

// Manager resolves tenants, API keys, and user permissions. Read only
// after construction, so no locking is needed.
type Manager struct {
	tenants map[string]*Tenant
	byKeyID map[string]*Tenant
	phase   registry.RolloutPhase
}

// NewManager builds the manager from declared tenant configuration.
func NewManager(declared []config.TenantConfig, phase registry.RolloutPhase) (*Manager, error) {
	m := &Manager{
		tenants: make(map[string]*Tenant, len(declared)),
		byKeyID: make(map[string]*Tenant),
		phase:   phase,
	}
	for _, tc := range declared {
		if tc.ID == "" {
			return nil, fmt.Errorf("tenant with empty id")
		}
		if _, dup := m.tenants[tc.ID]; dup {
			return nil, fmt.Errorf("duplicate tenant %q", tc.ID)
		}

		t := &Tenant{
			ID:     tc.ID,
			Name:   tc.Name,
			Status: tc.Status,
			users:  make(map[string][]string, len(tc.Users)),
			keys:   make(map[string]string, len(tc.APIKeys)),
		}
		if t.Status == "" {
			t.Status = "ACTIVE"
		}
		for _, u := range tc.Users {
			t.users[u.ID] = append([]string(nil), u.Permissions...)
		}
		for _, k := range tc.APIKeys {
			if k.KeyID == "" || k.SecretHash == "" {
				return nil, fmt.Errorf("tenant %q has an api key without id or hash", tc.ID)
			}
			if _, dup := m.byKeyID[k.KeyID]; dup {
				return nil, fmt.Errorf("duplicate api key id %q", k.KeyID)
			}
			t.keys[k.KeyID] = k.SecretHash
			m.byKeyID[k.KeyID] = t
		}
		m.tenants[tc.ID] = t
	}
	return m, nil
}

// Phase is the deployment rollout phase all tenants run under.
func (m *Manager) Phase() registry.RolloutPhase { return m.phase }

// LoadTenant resolves an active tenant by id.
func (m *Manager) LoadTenant(tenantID string) (*Tenant, error) {
	t, ok := m.tenants[tenantID]
	if !ok {
		return nil, ErrTenantNotFound
	}
	if t.Status != "ACTIVE" && t.Status != "TRIAL" {
		return nil, fmt.Errorf("tenant is %s", t.Status)
	}
	return t, nil
}

// ValidateAPIKey checks an hrc_<key_id>.<secret> credential and returns
// the owning tenant. Errors are deliberately uniform; callers should not
// reveal which part of the key failed.
func (m *Manager) ValidateAPIKey(fullKey string) (*Tenant, error) {
	if !strings.HasPrefix(fullKey, KeyPrefix) {
		return nil, ErrInvalidKey
	}
	parts := strings.Split(strings.TrimPrefix(fullKey, KeyPrefix), ".")
	if len(parts) != 2 {
		return nil, ErrInvalidKey
	}
	keyID, secret := parts[0], parts[1]

	t, ok := m.byKeyID[keyID]
	if !ok {
		return nil, ErrInvalidKey
	}
	if err := bcrypt.CompareHashAndPassword([]byte(t.keys[keyID]), []byte(secret)); err != nil {
		return nil, ErrInvalidKey
	}
	return m.LoadTenant(t.ID)
}

// PermissionsFor returns the permission set of a tenant's user. Unknown
// users hold nothing.
func (m *Manager) PermissionsFor(tenantID, userID string) []string {
	t, ok := m.tenants[tenantID]
	if !ok {
		return nil
	}
	perms, ok := t.users[userID]
	if !ok {
		return nil
	}
	return append([]string(nil), perms...)
}

// MintAPIKey generates a fresh credential pair: the full key handed to the
// clinic once, and the key id plus hash that go into configuration.
func MintAPIKey() (fullKey string, cfg config.APIKeyConfig, err error) {
	idBytes := make([]byte, 8)
	if _, err = rand.Read(idBytes); err != nil {
		return "", config.APIKeyConfig{}, err
	}
	secretBytes := make([]byte, 24)
	if _, err = rand.Read(secretBytes); err != nil {
		return "", config.APIKeyConfig{}, err
	}

	keyID := hex.EncodeToString(idBytes)
	secret := hex.EncodeToString(secretBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", config.APIKeyConfig{}, err
	}

	fullKey = fmt.Sprintf("%s%s.%s", KeyPrefix, keyID, secret)
	return fullKey, config.APIKeyConfig{KeyID: keyID, SecretHash: string(hash)}, nil
}

type contextKey string

const tenantIDKey contextKey = "tenant_id"

// WithTenant adds the resolved tenant id to the request context.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// TenantID extracts the tenant id from the context.
func TenantID(ctx context.Context) (string, error) {
	id, ok := ctx.Value(tenantIDKey).(string)
	if !ok || id == "" {
		return "", errors.New("tenant context missing")
	}
	return id, nil
}
