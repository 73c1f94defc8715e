package server

import (
	"fmt"
	"path"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// AuthenticatorFunc adapts a function to the IdentityProvider interface.
type AuthenticatorFunc func(user, pass string) (*Identity, error)

// Authenticate calls f(user, pass).
func (f AuthenticatorFunc) Authenticate(user, pass string) (*Identity, error) {
	return f(user, pass)
}

// User is an account known to a UserTable.
type User struct {
	Name string
	// PasswordHash is a bcrypt hash, as produced by HashPassword.
	PasswordHash string
	Home         string
	ReadOnly     bool
}

// UserTable is an IdentityProvider backed by a fixed set of accounts with
// bcrypt password hashes.
//
// Default behavior (no options):
//   - Only listed users may log in
//   - Anonymous logins ("ftp" or "anonymous") are refused
type UserTable struct {
	users     map[string]User
	anonymous bool
	anonWrite bool
	anonHome  string
}

// UserTableOption configures a UserTable.
type UserTableOption func(*UserTable)

// WithAnonymous allows "ftp" and "anonymous" to log in with any password.
func WithAnonymous(enable bool) UserTableOption {
	return func(t *UserTable) {
		t.anonymous = enable
	}
}

// WithAnonWrite grants anonymous users write access. Default is
// read-only. Use this with caution.
func WithAnonWrite(enable bool) UserTableOption {
	return func(t *UserTable) {
		t.anonWrite = enable
	}
}

// WithAnonymousHome sets the directory anonymous users start in.
func WithAnonymousHome(home string) UserTableOption {
	return func(t *UserTable) {
		t.anonHome = home
	}
}

// NewUserTable builds a UserTable. It rejects duplicate names and
// malformed hashes.
//
//	hash, _ := server.HashPassword("secret", bcrypt.DefaultCost)
//	users, err := server.NewUserTable([]server.User{
//	    {Name: "alice", PasswordHash: hash, Home: "/alice"},
//	}, server.WithAnonymous(true))
func NewUserTable(users []User, options ...UserTableOption) (*UserTable, error) {
	t := &UserTable{
		users:    make(map[string]User, len(users)),
		anonHome: "/",
	}
	for _, opt := range options {
		opt(t)
	}

	for _, u := range users {
		if u.Name == "" {
			return nil, fmt.Errorf("user with empty name")
		}
		if _, dup := t.users[u.Name]; dup {
			return nil, fmt.Errorf("duplicate user %q", u.Name)
		}
		if _, err := bcrypt.Cost([]byte(u.PasswordHash)); err != nil {
			return nil, fmt.Errorf("user %q: invalid password hash: %w", u.Name, err)
		}
		u.Home = cleanHome(u.Home)
		t.users[u.Name] = u
	}
	t.anonHome = cleanHome(t.anonHome)
	return t, nil
}

// Authenticate checks the password against the stored hash.
func (t *UserTable) Authenticate(user, pass string) (*Identity, error) {
	if u, ok := t.users[user]; ok {
		if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(pass)); err != nil {
			return nil, ErrAuthFailed
		}
		return &Identity{User: u.Name, Home: u.Home, ReadOnly: u.ReadOnly}, nil
	}

	if t.anonymous && isAnonymous(user) {
		return &Identity{User: strings.ToLower(user), Home: t.anonHome, ReadOnly: !t.anonWrite}, nil
	}
	return nil, ErrAuthFailed
}

// HashPassword returns a bcrypt hash of pass for use in User.PasswordHash.
func HashPassword(pass string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pass), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func isAnonymous(user string) bool {
	u := strings.ToLower(user)
	return u == "ftp" || u == "anonymous"
}

func cleanHome(home string) string {
	if home == "" {
		return "/"
	}
	return path.Clean("/" + home)
}
