// Package account manages the user accounts allowed to view or edit
// timetables. Each user is one JSON file under the users directory.
package account

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"timetable/internal/fsutil"
)

// Account errors
var (
	ErrNotFound      = errors.New("user not found")
	ErrDuplicate     = errors.New("user with this abbreviation already exists")
	ErrWrongPassword = errors.New("invalid password")
	ErrMissingField  = errors.New("name, abbreviation and password are required")
)

// User is a stored account. PasswordHash is never sent to API clients.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Abbreviation string    `json:"abbreviation"`
	PasswordHash string    `json:"passwordHash,omitempty"`
	IsAdmin      bool      `json:"isAdmin"`
	CreatedAt    time.Time `json:"createdAt"`

	// legacyPassword holds a plaintext password from records written before
	// hashing; it is replaced by a hash on the first successful login.
	legacyPassword string
}

// Public is the client-facing view of a user.
type Public struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Abbreviation string    `json:"abbreviation"`
	IsAdmin      bool      `json:"isAdmin"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Public strips credentials.
func (u User) Public() Public {
	return Public{ID: u.ID, Name: u.Name, Abbreviation: u.Abbreviation, IsAdmin: u.IsAdmin, CreatedAt: u.CreatedAt}
}

// NewUser is the input to Create.
type NewUser struct {
	Name         string
	Abbreviation string
	Password     string
	IsAdmin      bool
}

type userFile struct {
	User
	Password string `json:"password,omitempty"`
}

var validID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Store is a directory of <id>.json user documents.
type Store struct {
	dir  string
	cost int
	now  func() time.Time
}

// New creates dir if needed. cost is the bcrypt work factor; values outside
// bcrypt's range fall back to bcrypt.DefaultCost.
func New(dir string, cost int) (*Store, error) {
	if dir == "" {
		return nil, errors.New("account store: directory is empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("account store: mkdir %s: %w", dir, err)
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Store{dir: dir, cost: cost, now: time.Now}, nil
}

// Create hashes the password and writes a new user.
// PRE: abbreviation is unique among existing users
func (s *Store) Create(ctx context.Context, in NewUser) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	in.Name = strings.TrimSpace(in.Name)
	in.Abbreviation = strings.TrimSpace(in.Abbreviation)
	in.Password = strings.TrimSpace(in.Password)
	if in.Name == "" || in.Abbreviation == "" || in.Password == "" {
		return User{}, ErrMissingField
	}

	users, err := s.list()
	if err != nil {
		return User{}, err
	}
	for _, u := range users {
		if u.Abbreviation == in.Abbreviation {
			return User{}, ErrDuplicate
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	u := User{
		ID:           uuid.NewString(),
		Name:         in.Name,
		Abbreviation: in.Abbreviation,
		PasswordHash: string(hash),
		IsAdmin:      in.IsAdmin,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.write(u); err != nil {
		return User{}, err
	}
	return u, nil
}

// List returns every readable user ordered by abbreviation.
func (s *Store) List(ctx context.Context) ([]User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.list()
}

// Get returns the user with id.
func (s *Store) Get(ctx context.Context, id string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if !validID.MatchString(id) {
		return User{}, ErrNotFound
	}
	return s.read(filepath.Join(s.dir, id+".json"))
}

// Delete removes the user with id.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validID.MatchString(id) {
		return ErrNotFound
	}
	if err := os.Remove(filepath.Join(s.dir, id+".json")); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("delete user %s: %w", id, err)
	}
	return nil
}

// Authenticate checks the password of the user with abbreviation.
// A legacy plaintext password is upgraded to a hash on success.
func (s *Store) Authenticate(ctx context.Context, abbreviation, password string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	users, err := s.list()
	if err != nil {
		return User{}, err
	}
	abbreviation = strings.TrimSpace(abbreviation)
	for _, u := range users {
		if u.Abbreviation != abbreviation {
			continue
		}
		if u.PasswordHash == "" {
			if u.legacyPassword == "" || subtle.ConstantTimeCompare([]byte(u.legacyPassword), []byte(password)) != 1 {
				return User{}, ErrWrongPassword
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
			if err != nil {
				return User{}, fmt.Errorf("hash password: %w", err)
			}
			u.PasswordHash = string(hash)
			u.legacyPassword = ""
			if err := s.write(u); err != nil {
				return User{}, err
			}
			return u, nil
		}
		if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
			return User{}, ErrWrongPassword
		}
		return u, nil
	}
	return User{}, ErrNotFound
}

// SeedAdmin creates an admin account when the store holds no users.
// It reports whether a user was created.
func (s *Store) SeedAdmin(ctx context.Context, abbreviation, name, password string) (bool, error) {
	users, err := s.List(ctx)
	if err != nil {
		return false, err
	}
	if len(users) > 0 || strings.TrimSpace(password) == "" {
		return false, nil
	}
	if strings.TrimSpace(name) == "" {
		name = abbreviation
	}
	if _, err := s.Create(ctx, NewUser{Name: name, Abbreviation: abbreviation, Password: password, IsAdmin: true}); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) list() ([]User, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read users dir: %w", err)
	}
	users := make([]User, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		u, err := s.read(filepath.Join(s.dir, name))
		if err != nil {
			continue
		}
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Abbreviation < users[j].Abbreviation })
	return users, nil
}

func (s *Store) read(p string) (User, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("read user: %w", err)
	}
	var f userFile
	if err := json.Unmarshal(data, &f); err != nil {
		return User{}, fmt.Errorf("decode user %s: %w", filepath.Base(p), err)
	}
	u := f.User
	if u.ID == "" {
		u.ID = strings.TrimSuffix(filepath.Base(p), ".json")
	}
	u.legacyPassword = f.Password
	return u, nil
}

func (s *Store) write(u User) error {
	if !validID.MatchString(u.ID) {
		return fmt.Errorf("write user: invalid id %q", u.ID)
	}
	data, err := json.MarshalIndent(u, "", "  ")
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	p := filepath.Join(s.dir, u.ID+".json")
	if err := fsutil.WriteFileAtomic(p, data, 0o600, "."+u.ID+"-*.tmp"); err != nil {
		return fmt.Errorf("write user: %w", err)
	}
	return nil
}
