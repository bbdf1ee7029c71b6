package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	gitlab "gitlab.com/gitlab-org/api/client-go"
)

// gitlabProjectLister is the single Groups service method the provider
// uses, split out so tests can run without a real client.
type gitlabProjectLister interface {
	ListGroupProjects(gid interface{}, opt *gitlab.ListGroupProjectsOptions, options ...gitlab.RequestOptionFunc) ([]*gitlab.Project, *gitlab.Response, error)
}

// GitLab lists every project of a group, traversing all descendant
// subgroups. Projects are de-duplicated by their numeric ID.
type GitLab struct {
	projects gitlabProjectLister
	group    string
	log      *slog.Logger
}

// NewGitLab creates a GitLab provider for the given instance URL and group.
// An empty token gives anonymous access.
func NewGitLab(baseURL, group, token, userAgent string, log *slog.Logger) (*GitLab, error) {
	client, err := gitlab.NewClient(token, gitlab.WithBaseURL(baseURL))
	if err != nil {
		return nil, fmt.Errorf("unable to create gitlab client err:%w", err)
	}
	client.UserAgent = userAgent

	if log == nil {
		log = slog.Default()
	}

	return &GitLab{
		projects: client.Groups,
		group:    group,
		log:      log.With("provider", "gitlab", "group", group),
	}, nil
}

func (g *GitLab) Name() string { return "gitlab" }

// ListRepositories returns a descriptor for every project under the group
// and all of its subgroups, following pagination until exhausted.
func (g *GitLab) ListRepositories(ctx context.Context) ([]Descriptor, error) {
	opt := &gitlab.ListGroupProjectsOptions{
		IncludeSubGroups: gitlab.Ptr(true),
		ListOptions:      gitlab.ListOptions{PerPage: perPage, Page: 1},
	}

	seen := make(map[int]bool)
	var repos []Descriptor

	for {
		projects, resp, err := g.projects.ListGroupProjects(g.group, opt, gitlab.WithContext(ctx))
		if err != nil {
			return nil, &ListingError{Provider: g.Name(), Err: err}
		}

		for _, p := range projects {
			// same project can show up again if pages shift mid-listing
			if seen[p.ID] {
				continue
			}
			seen[p.ID] = true

			d, err := gitlabDescriptor(p)
			if err != nil {
				return nil, &ListingError{Provider: g.Name(), Err: err}
			}
			repos = append(repos, d)
		}

		g.log.Debug("fetched project page", "page", opt.Page, "projects", len(projects))

		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}

	g.log.Info("group listing complete", "projects", len(repos))
	return repos, nil
}

func gitlabDescriptor(p *gitlab.Project) (Descriptor, error) {
	segments := strings.Split(p.PathWithNamespace, "/")
	if len(segments) < 2 {
		return Descriptor{}, fmt.Errorf("malformed project path %q for project id %d", p.PathWithNamespace, p.ID)
	}

	return Descriptor{
		Namespace: segments[:len(segments)-1],
		Name:      segments[len(segments)-1],
		SSHURL:    p.SSHURLToRepo,
		HTTPURL:   p.HTTPURLToRepo,
	}, nil
}
