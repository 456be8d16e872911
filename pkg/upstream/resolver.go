package upstream

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	nixerrors "github.com/matzehuels/nixupdate/pkg/errors"
	"github.com/matzehuels/nixupdate/pkg/integrations"
)

// RepoLister lists releases and tags of a hosted repository.
// It is satisfied by the GitHub and GitLab clients.
type RepoLister interface {
	ListReleases(ctx context.Context, owner, repo string) ([]Release, error)
	ListTags(ctx context.Context, owner, repo string) ([]Release, error)
}

// PackageLister lists the published versions of an index package.
// It is satisfied by the PyPI client.
type PackageLister interface {
	ListReleases(ctx context.Context, name string) ([]Release, error)
}

// Resolver finds the release a package should be updated to.
type Resolver struct {
	GitHub RepoLister
	GitLab RepoLister
	PyPI   PackageLister
	Logger *log.Logger
}

func (r *Resolver) logger() *log.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return log.Default()
}

// Resolve returns the best release of src for a package at version current.
//
// Fetch failures carry NOT_FOUND, RATE_LIMITED or NETWORK_ERROR codes, and
// an empty candidate set carries NO_ACCEPTABLE_RELEASE. All of these are
// transient from the scheduler's point of view.
func (r *Resolver) Resolve(ctx context.Context, src Source, current string, policy Policy) (Release, error) {
	releases, err := r.list(ctx, src)
	if err != nil {
		return Release{}, fetchError(src, err)
	}
	return FindBest(releases, current, policy)
}

func (r *Resolver) list(ctx context.Context, src Source) ([]Release, error) {
	switch s := src.(type) {
	case GitHub:
		if r.GitHub == nil {
			return nil, nixerrors.New(nixerrors.ErrCodeUnsupportedSource, "no GitHub client configured")
		}
		return r.listRepo(ctx, r.GitHub, s.Owner, s.Repo)
	case GitLab:
		if r.GitLab == nil {
			return nil, nixerrors.New(nixerrors.ErrCodeUnsupportedSource, "no GitLab client configured")
		}
		return r.listRepo(ctx, r.GitLab, s.Owner, s.Project)
	case PyPI:
		if r.PyPI == nil {
			return nil, nixerrors.New(nixerrors.ErrCodeUnsupportedSource, "no PyPI client configured")
		}
		return r.PyPI.ListReleases(ctx, s.Name)
	default:
		panic(fmt.Sprintf("upstream: unhandled source type %T", src))
	}
}

// listRepo prefers the releases listing and degrades to tags when the
// project has no releases endpoint or publishes no releases.
func (r *Resolver) listRepo(ctx context.Context, api RepoLister, owner, repo string) ([]Release, error) {
	releases, err := api.ListReleases(ctx, owner, repo)
	switch {
	case err == nil && len(releases) > 0:
		return releases, nil
	case err == nil, errors.Is(err, integrations.ErrNotFound):
		r.logger().Debug("no releases, falling back to tags", "owner", owner, "repo", repo)
	default:
		return nil, err
	}

	tags, err := api.ListTags(ctx, owner, repo)
	if err != nil {
		return nil, err
	}
	out := make([]Release, len(tags))
	for i, t := range tags {
		out[i] = Release{Tag: t.Tag}
	}
	return out, nil
}

func fetchError(src Source, err error) error {
	switch {
	case nixerrors.GetCode(err) != "":
		return fmt.Errorf("%s: %w", src, err)
	case errors.Is(err, integrations.ErrNotFound):
		return nixerrors.Wrap(nixerrors.ErrCodeNotFound, err, "%s", src)
	default:
		return nixerrors.Wrap(nixerrors.ErrCodeNetwork, err, "fetch %s", src)
	}
}
