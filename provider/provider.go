// Package provider enumerates every repository under a remote namespace,
// a GitLab group or a GitHub organisation. Listing is paginated and, where
// the backend supports nested groups, recursive. The returned descriptors
// are the sole input of a mirror run.
package provider

import (
	"context"
	"fmt"
	"strings"
)

const perPage = 100

// Descriptor identifies one remote repository returned by a listing pass.
// Descriptors are immutable once produced.
type Descriptor struct {
	// Namespace is the ordered path of groups the repository lives under,
	// eg ["team", "backend"]. It is used to reproduce the nested group
	// structure on the local filesystem.
	Namespace []string

	// Name of the repository, unique within its namespace.
	Name string

	// SSHURL and HTTPURL are two equivalent remote addresses
	// of the same repository.
	SSHURL  string
	HTTPURL string
}

// FullName returns the namespace segments and the repository name
// joined with "/".
func (d Descriptor) FullName() string {
	if len(d.Namespace) == 0 {
		return d.Name
	}
	return strings.Join(d.Namespace, "/") + "/" + d.Name
}

// ListingError is a fatal failure of the listing phase, there is nothing
// to mirror without a complete repository list. It covers authentication
// rejection, network failure and malformed or truncated pages.
type ListingError struct {
	Provider string
	Err      error
}

func (e *ListingError) Error() string {
	return fmt.Sprintf("%s listing failed err:%v", e.Provider, e.Err)
}

func (e *ListingError) Unwrap() error { return e.Err }

// Provider lists all repositories of the configured namespace.
// Implementations must follow pagination until exhausted, must carry an
// identifying user agent on outbound requests and must never log the
// access token.
type Provider interface {
	Name() string
	ListRepositories(ctx context.Context) ([]Descriptor, error)
}
