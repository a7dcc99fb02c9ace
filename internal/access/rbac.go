package access

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"

	"site-decisions/internal/workflow"
)

//go:embed policy.yaml
var defaultPolicy []byte

type Permission struct {
	Resource string   `yaml:"resource"`
	Actions  []string `yaml:"actions"`
}

type Role struct {
	Description string       `yaml:"description"`
	Permissions []Permission `yaml:"permissions"`
}

type RBACPolicy struct {
	DefaultRole string          `yaml:"default_role"`
	Roles       map[string]Role `yaml:"roles"`
	// Roles granted to users on top of the ones in their token
	Users map[string]struct {
		Roles []string `yaml:"roles"`
	} `yaml:"users"`
	Inheritance map[string][]string `yaml:"inheritance"`
}

type RBAC struct {
	mu          sync.RWMutex
	policy      *RBACPolicy
	userRoles   map[string][]string        // userID -> extra roles
	policyCache map[string]map[string]bool // role set -> "resource:action" -> allowed
}

func NewRBAC() *RBAC {
	return &RBAC{
		userRoles:   make(map[string][]string),
		policyCache: make(map[string]map[string]bool),
	}
}

// LoadPolicy loads the RBAC policy from a YAML file. An empty path loads
// the built-in policy.
func (r *RBAC) LoadPolicy(filepath string) error {
	data := defaultPolicy
	if filepath != "" {
		var err error
		if data, err = os.ReadFile(filepath); err != nil {
			return fmt.Errorf("failed to read policy file: %w", err)
		}
	}
	return r.LoadPolicyBytes(data)
}

func (r *RBAC) LoadPolicyBytes(data []byte) error {
	var policy RBACPolicy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return fmt.Errorf("failed to parse policy file: %w", err)
	}

	r.mu.Lock()
	r.policy = &policy
	r.userRoles = make(map[string][]string)
	for userID, userData := range policy.Users {
		r.userRoles[userID] = userData.Roles
	}
	r.policyCache = make(map[string]map[string]bool)
	r.mu.Unlock()

	slog.Info("RBAC policy loaded", "roles", len(policy.Roles), "users", len(policy.Users))
	return nil
}

// AssignRole assigns one or more roles to a user
func (r *RBAC) AssignRole(userID string, roles ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.userRoles[userID] = append(r.userRoles[userID], roles...)
	r.policyCache = make(map[string]map[string]bool)

	slog.Debug("Roles assigned", "userID", userID, "roles", roles)
}

// Roles returns the effective roles of actor: its token roles, roles
// assigned in the policy, the default role and everything they inherit.
// Role names are case folded.
func (r *RBAC) Roles(actor workflow.Actor) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roles(actor)
}

func (r *RBAC) roles(actor workflow.Actor) []string {
	direct := append(slices.Clone(actor.Roles), r.userRoles[actor.ID]...)
	if r.policy != nil && r.policy.DefaultRole != "" {
		direct = append(direct, r.policy.DefaultRole)
	}

	allRoles := make(map[string]bool)
	for _, role := range direct {
		role = fold(role)
		if role == "" || allRoles[role] {
			continue
		}
		allRoles[role] = true
		r.addInheritedRoles(role, allRoles)
	}

	result := make([]string, 0, len(allRoles))
	for role := range allRoles {
		result = append(result, role)
	}
	slices.Sort(result)
	return result
}

// addInheritedRoles recursively adds inherited roles
func (r *RBAC) addInheritedRoles(role string, roles map[string]bool) {
	if r.policy == nil {
		return
	}
	for parent, inherited := range r.policy.Inheritance {
		if fold(parent) != role {
			continue
		}
		for _, inheritedRole := range inherited {
			inheritedRole = fold(inheritedRole)
			if !roles[inheritedRole] {
				roles[inheritedRole] = true
				r.addInheritedRoles(inheritedRole, roles)
			}
		}
	}
}

// Can checks if actor can perform action on resource
func (r *RBAC) Can(actor workflow.Actor, resource, action string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.policy == nil {
		slog.Warn("RBAC policy not loaded")
		return false
	}

	roles := r.roles(actor)
	roleKey := strings.Join(roles, ",")
	cacheKey := resource + ":" + action
	if cache, exists := r.policyCache[roleKey]; exists {
		if allowed, found := cache[cacheKey]; found {
			return allowed
		}
	}

	allowed := false
	for name, role := range r.policy.Roles {
		if !slices.Contains(roles, fold(name)) {
			continue
		}
		if role.allows(resource, action) {
			allowed = true
			break
		}
	}

	if r.policyCache[roleKey] == nil {
		r.policyCache[roleKey] = make(map[string]bool)
	}
	r.policyCache[roleKey][cacheKey] = allowed

	return allowed
}

func (role Role) allows(resource, action string) bool {
	for _, perm := range role.Permissions {
		if perm.Resource != "*" && perm.Resource != resource {
			continue
		}
		for _, act := range perm.Actions {
			if act == "*" || act == action {
				return true
			}
		}
	}
	return false
}

func fold(role string) string {
	return cases.Fold().String(strings.TrimSpace(role))
}
