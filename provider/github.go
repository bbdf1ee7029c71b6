package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/google/go-github/v61/github"
)

// githubRepoLister is the single Repositories service method the provider
// uses, split out so tests can run without a real client.
type githubRepoLister interface {
	ListByOrg(ctx context.Context, org string, opts *github.RepositoryListByOrgOptions) ([]*github.Repository, *github.Response, error)
}

// GitHub lists every repository of an organisation. GitHub has no nested
// org concept so the listing is flat, but it is paginated the same way as
// GitLab's.
type GitHub struct {
	repos githubRepoLister
	org   string
	log   *slog.Logger
}

// NewGitHub creates a GitHub provider against the given API base URL
// (https://api.github.com for the public instance). An empty token gives
// anonymous access.
func NewGitHub(baseURL, org, token, userAgent string, log *slog.Logger) (*GitHub, error) {
	client := github.NewClient(nil)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	client.UserAgent = userAgent

	if baseURL != "" {
		u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("unable to parse github api url err:%w", err)
		}
		client.BaseURL = u
	}

	if log == nil {
		log = slog.Default()
	}

	return &GitHub{
		repos: client.Repositories,
		org:   org,
		log:   log.With("provider", "github", "org", org),
	}, nil
}

func (g *GitHub) Name() string { return "github" }

// ListRepositories returns a descriptor for every repository of the
// organisation, following pagination until exhausted.
func (g *GitHub) ListRepositories(ctx context.Context) ([]Descriptor, error) {
	opt := &github.RepositoryListByOrgOptions{
		Type:        "all",
		ListOptions: github.ListOptions{PerPage: perPage, Page: 1},
	}

	var repos []Descriptor

	for {
		result, resp, err := g.repos.ListByOrg(ctx, g.org, opt)
		if err != nil {
			return nil, &ListingError{Provider: g.Name(), Err: err}
		}

		for _, r := range result {
			owner := g.org
			if r.GetOwner() != nil && r.GetOwner().GetLogin() != "" {
				owner = r.GetOwner().GetLogin()
			}
			repos = append(repos, Descriptor{
				Namespace: []string{owner},
				Name:      r.GetName(),
				SSHURL:    r.GetSSHURL(),
				HTTPURL:   r.GetCloneURL(),
			})
		}

		g.log.Debug("fetched repository page", "page", opt.Page, "repositories", len(result))

		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}

	g.log.Info("org listing complete", "repositories", len(repos))
	return repos, nil
}
