package account

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestCreateAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	u, err := s.Create(ctx, NewUser{Name: " Jana Novak ", Abbreviation: "NOV", Password: "secret", IsAdmin: true})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if u.ID == "" || u.Name != "Jana Novak" || !u.IsAdmin {
		t.Errorf("user = %+v", u)
	}
	if u.PasswordHash == "secret" || !strings.HasPrefix(u.PasswordHash, "$2") {
		t.Errorf("password not hashed: %q", u.PasswordHash)
	}

	got, err := s.Authenticate(ctx, "NOV", "secret")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("authenticated %s, want %s", got.ID, u.ID)
	}

	tests := []struct {
		name       string
		abbr, pass string
		want       error
	}{
		{"wrong password", "NOV", "nope", ErrWrongPassword},
		{"unknown user", "XYZ", "secret", ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Authenticate(ctx, tt.abbr, tt.pass); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCreate_Errors(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.Create(ctx, NewUser{Name: "A", Abbreviation: "AAA", Password: "x"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create(ctx, NewUser{Name: "B", Abbreviation: " AAA ", Password: "y"}); !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate: err = %v", err)
	}
	if _, err := s.Create(ctx, NewUser{Name: "C", Abbreviation: "CCC", Password: "  "}); !errors.Is(err, ErrMissingField) {
		t.Errorf("blank password: err = %v", err)
	}
}

func TestListGetDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, abbr := range []string{"ZED", "ABE"} {
		if _, err := s.Create(ctx, NewUser{Name: abbr, Abbreviation: abbr, Password: "pw"}); err != nil {
			t.Fatal(err)
		}
	}
	users, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 2 || users[0].Abbreviation != "ABE" {
		t.Fatalf("users = %+v", users)
	}

	got, err := s.Get(ctx, users[1].ID)
	if err != nil || got.Abbreviation != "ZED" {
		t.Errorf("Get = %+v, %v", got, err)
	}

	if err := s.Delete(ctx, users[1].ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, users[1].ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: err = %v", err)
	}
	if _, err := s.Get(ctx, "../x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unsafe id: err = %v", err)
	}
}

// TestPublic_OmitsHash verifies the client view carries no credential.
func TestPublic_OmitsHash(t *testing.T) {
	u := User{ID: "1", Abbreviation: "NOV", PasswordHash: "$2a$04$abc"}
	data, err := json.Marshal(u.Public())
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "password") || strings.Contains(string(data), "$2a") {
		t.Errorf("public json leaks credential: %s", data)
	}
}

// TestAuthenticate_UpgradesLegacyPlaintext verifies old records with a
// plaintext password still log in and are rewritten with a hash.
func TestAuthenticate_UpgradesLegacyPlaintext(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	legacy := `{"id":"old1","name":"Old","abbreviation":"OLD","password":"plain","isAdmin":false,"createdAt":"2024-09-01T08:00:00.000Z"}`
	if err := os.WriteFile(filepath.Join(s.dir, "old1.json"), []byte(legacy), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Authenticate(ctx, "OLD", "wrong"); !errors.Is(err, ErrWrongPassword) {
		t.Fatalf("wrong legacy password: err = %v", err)
	}
	u, err := s.Authenticate(ctx, "OLD", "plain")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if u.PasswordHash == "" {
		t.Fatal("hash not set after upgrade")
	}

	data, err := os.ReadFile(filepath.Join(s.dir, "old1.json"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), `"password"`) {
		t.Errorf("plaintext still stored: %s", data)
	}
	if _, err := s.Authenticate(ctx, "OLD", "plain"); err != nil {
		t.Errorf("login after upgrade: %v", err)
	}
}

func TestSeedAdmin(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	created, err := s.SeedAdmin(ctx, "admin", "", "changeme")
	if err != nil || !created {
		t.Fatalf("SeedAdmin = %v, %v", created, err)
	}
	created, err = s.SeedAdmin(ctx, "admin", "", "changeme")
	if err != nil || created {
		t.Errorf("second SeedAdmin = %v, %v; want no-op", created, err)
	}
	u, err := s.Authenticate(ctx, "admin", "changeme")
	if err != nil || !u.IsAdmin {
		t.Errorf("seeded admin = %+v, %v", u, err)
	}
}
