package auth

import (
	"errors"
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

// Objects and actions checked by the API.
const (
	ObjMeters       = "meters"
	ObjDistributors = "distributors"
	ActRead         = "read"
	ActRefresh      = "refresh"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrUnknownRole  = errors.New("unknown role")
)

// Token is a configured API token. Hash is the bcrypt hash of the secret.
type Token struct {
	Name string `yaml:"name" json:"name"`
	Role string `yaml:"role" json:"role"`
	Hash string `yaml:"hash" json:"-"`
}

type Service struct {
	tokens   []Token
	enforcer *casbin.Enforcer
}

// NewService builds the enforcer for tokens. With no tokens the service is
// disabled and every request is let through.
func NewService(tokens []Token) (*Service, error) {
	m, err := model.NewModelFromString(`
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && (r.obj == p.obj || p.obj == "*") && (r.act == p.act || p.act == "*")
`)
	if err != nil {
		return nil, err
	}

	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, err
	}

	policies := [][]string{
		{RoleAdmin, "*", "*"},
		{RoleViewer, ObjMeters, ActRead},
		{RoleViewer, ObjDistributors, ActRead},
		{RoleOperator, ObjMeters, ActRefresh},
	}
	for _, p := range policies {
		if _, err := e.AddPolicy(p[0], p[1], p[2]); err != nil {
			return nil, err
		}
	}
	// Operators can do whatever viewers can.
	if _, err := e.AddGroupingPolicy(RoleOperator, RoleViewer); err != nil {
		return nil, err
	}

	for _, t := range tokens {
		if err := ValidRole(t.Role); err != nil {
			return nil, fmt.Errorf("token %s: %w", t.Name, err)
		}
		if _, err := bcrypt.Cost([]byte(t.Hash)); err != nil {
			return nil, fmt.Errorf("token %s: %w", t.Name, err)
		}
		if _, err := e.AddGroupingPolicy(t.Name, t.Role); err != nil {
			return nil, err
		}
	}

	return &Service{tokens: tokens, enforcer: e}, nil
}

func ValidRole(role string) error {
	switch role {
	case RoleViewer, RoleOperator, RoleAdmin:
		return nil
	}
	return fmt.Errorf("%w %q", ErrUnknownRole, role)
}

// Enabled reports whether any token is configured.
func (s *Service) Enabled() bool {
	return s != nil && len(s.tokens) > 0
}

// Authenticate returns the token whose hash matches raw.
func (s *Service) Authenticate(raw string) (*Token, error) {
	for i := range s.tokens {
		if bcrypt.CompareHashAndPassword([]byte(s.tokens[i].Hash), []byte(raw)) == nil {
			return &s.tokens[i], nil
		}
	}
	return nil, ErrInvalidToken
}

func (s *Service) Enforce(sub, obj, act string) (bool, error) {
	return s.enforcer.Enforce(sub, obj, act)
}

// NewToken generates a random secret and its bcrypt hash.
func NewToken() (raw, hash string, err error) {
	raw = uuid.New().String() + uuid.New().String()
	h, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", "", err
	}
	return raw, string(h), nil
}
