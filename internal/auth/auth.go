package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

const (
	RoleQueryReader = "query_reader"
	RoleIndexer     = "indexer"

	allProjects = "*"
)

// Identity is the caller behind an API key. Projects lists the project names
// the key may touch; "*" grants every project. KeyID is a short fingerprint
// of the key that is safe to log.
type Identity struct {
	KeyID    string
	Projects []string
	Roles    []string
}

func (i Identity) HasRole(role string) bool {
	for _, candidate := range i.Roles {
		if candidate == role {
			return true
		}
	}
	return false
}

func (i Identity) CanAccess(project string) bool {
	for _, candidate := range i.Projects {
		if candidate == allProjects || candidate == project {
			return true
		}
	}
	return false
}

type APIKeyValidator interface {
	Validate(ctx context.Context, apiKey string) (Identity, bool)
}

// StaticAPIKeyValidator holds keys by digest only.
type StaticAPIKeyValidator struct {
	keys map[[sha256.Size]byte]Identity
}

// NewStaticAPIKeyValidator parses comma separated entries of the form
// key:project|project:role|role.
func NewStaticAPIKeyValidator(spec string) (*StaticAPIKeyValidator, error) {
	validator := &StaticAPIKeyValidator{keys: map[[sha256.Size]byte]Identity{}}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return validator, nil
	}

	entries := strings.Split(spec, ",")
	for i, entry := range entries {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid static key entry %d: expected key:project|project:role|role", i+1)
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			return nil, fmt.Errorf("invalid static key entry %d: empty key", i+1)
		}
		projects := splitList(parts[1])
		if len(projects) == 0 {
			return nil, fmt.Errorf("invalid static key entry %d: at least one project is required", i+1)
		}
		roles := splitList(parts[2])
		if len(roles) == 0 {
			return nil, fmt.Errorf("invalid static key entry %d: at least one role is required", i+1)
		}
		for _, role := range roles {
			if role != RoleQueryReader && role != RoleIndexer {
				return nil, fmt.Errorf("invalid static key entry %d: unknown role %q", i+1, role)
			}
		}
		digest := sha256.Sum256([]byte(key))
		if _, exists := validator.keys[digest]; exists {
			return nil, fmt.Errorf("invalid static key entry %d: duplicate key", i+1)
		}
		validator.keys[digest] = Identity{KeyID: fingerprint(digest), Projects: projects, Roles: roles}
	}

	return validator, nil
}

func (v *StaticAPIKeyValidator) Validate(_ context.Context, apiKey string) (Identity, bool) {
	identity, ok := v.keys[sha256.Sum256([]byte(apiKey))]
	return identity, ok
}

func fingerprint(digest [sha256.Size]byte) string {
	return "key-" + hex.EncodeToString(digest[:4])
}

func splitList(raw string) []string {
	parts := strings.Split(strings.TrimSpace(raw), "|")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		values = append(values, part)
	}
	sort.Strings(values)
	return values
}
