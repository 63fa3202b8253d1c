package forge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseRepo(t *testing.T) {
	repo, err := ParseRepo("org/repo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.Owner != "org" || repo.Name != "repo" {
		t.Fatalf("unexpected repo: %+v", repo)
	}
	if repo.String() != "org/repo" {
		t.Fatalf("unexpected string form: %s", repo)
	}
	for _, bad := range []string{"", "org", "org/", "/repo", "a/b/c"} {
		if _, err := ParseRepo(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestPermissionLevel(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/org/repo/collaborators/alice/permission", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("unexpected auth header %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"permission": "WRITE"})
	})
	mux.HandleFunc("/repos/org/repo/collaborators/stranger/permission", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(srv.URL, "tok")
	repo := Repo{Owner: "org", Name: "repo"}

	level, err := client.PermissionLevel(context.Background(), repo, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if level != PermissionWrite {
		t.Fatalf("level = %q, want %q", level, PermissionWrite)
	}

	level, err = client.PermissionLevel(context.Background(), repo, "stranger")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if level != PermissionNone {
		t.Fatalf("level = %q, want %q", level, PermissionNone)
	}
}

func TestResolveUser(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/users/bob", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(User{Login: "bob", AvatarURL: "https://avatars.test/bob"})
	})
	mux.HandleFunc("/users/ghost", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(srv.URL, "")

	user, err := client.ResolveUser(context.Background(), "bob")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.Login != "bob" || user.AvatarURL == "" {
		t.Fatalf("unexpected user: %+v", user)
	}

	_, err = client.ResolveUser(context.Background(), "ghost")
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestPostComment(t *testing.T) {
	var posted struct {
		Body string `json:"body"`
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/org/repo/issues/7/comments", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&posted); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(srv.URL, "tok")
	if err := client.PostComment(context.Background(), Repo{Owner: "org", Name: "repo"}, 7, "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if posted.Body != "hello" {
		t.Fatalf("posted body = %q", posted.Body)
	}
}
