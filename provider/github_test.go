package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestGitHub_ListRepositories_pagination(t *testing.T) {
	var gotAuth, gotUserAgent string

	mux := http.NewServeMux()
	mux.HandleFunc("/orgs/test-org/repos", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotUserAgent = r.Header.Get("User-Agent")

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("page") {
		case "", "1":
			w.Header().Set("Link", fmt.Sprintf(`<http://%s/orgs/test-org/repos?page=2>; rel="next"`, r.Host))
			fmt.Fprint(w, `[
				{"name": "alpha", "owner": {"login": "test-org"},
				 "ssh_url": "git@github.com:test-org/alpha.git",
				 "clone_url": "https://github.com/test-org/alpha.git"}
			]`)
		case "2":
			fmt.Fprint(w, `[
				{"name": "beta", "owner": {"login": "test-org"},
				 "ssh_url": "git@github.com:test-org/beta.git",
				 "clone_url": "https://github.com/test-org/beta.git"}
			]`)
		default:
			t.Errorf("unexpected page requested: %s", r.URL.Query().Get("page"))
		}
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	g, err := NewGitHub(server.URL, "test-org", "secret-token", testUserAgent, slog.Default())
	if err != nil {
		t.Fatalf("NewGitHub() error = %v", err)
	}

	got, err := g.ListRepositories(context.Background())
	if err != nil {
		t.Fatalf("ListRepositories() error = %v", err)
	}

	want := []Descriptor{
		{
			Namespace: []string{"test-org"},
			Name:      "alpha",
			SSHURL:    "git@github.com:test-org/alpha.git",
			HTTPURL:   "https://github.com/test-org/alpha.git",
		},
		{
			Namespace: []string{"test-org"},
			Name:      "beta",
			SSHURL:    "git@github.com:test-org/beta.git",
			HTTPURL:   "https://github.com/test-org/beta.git",
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ListRepositories() mismatch (-want +got):\n%s", diff)
	}

	if !strings.Contains(gotAuth, "secret-token") {
		t.Errorf("expected token in authorization header, got %q", gotAuth)
	}
	if !strings.Contains(gotUserAgent, testUserAgent) {
		t.Errorf("expected user agent %q, got %q", testUserAgent, gotUserAgent)
	}
}

func TestGitHub_ListRepositories_malformed_page(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/orgs/test-org/repos", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"name": "alp`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	g, err := NewGitHub(server.URL, "test-org", "", testUserAgent, slog.Default())
	if err != nil {
		t.Fatalf("NewGitHub() error = %v", err)
	}

	_, err = g.ListRepositories(context.Background())
	if err == nil {
		t.Fatal("expected error for malformed page, got nil")
	}
	var le *ListingError
	if !errors.As(err, &le) {
		t.Fatalf("expected ListingError, got %T: %v", err, err)
	}
	if le.Provider != "github" {
		t.Errorf("ListingError.Provider = %q, want github", le.Provider)
	}
}

func TestDescriptor_FullName(t *testing.T) {
	tests := []struct {
		name string
		d    Descriptor
		want string
	}{
		{"flat", Descriptor{Namespace: []string{"org"}, Name: "repo"}, "org/repo"},
		{"nested", Descriptor{Namespace: []string{"team", "backend"}, Name: "app"}, "team/backend/app"},
		{"no-namespace", Descriptor{Name: "repo"}, "repo"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.d.FullName(); got != tt.want {
				t.Errorf("FullName() = %q, want %q", got, tt.want)
			}
		})
	}
}
