package mirror

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sasha-s/go-deadlock"

	"github.com/beaufort-labs/git-mirror/giturl"
	"github.com/beaufort-labs/git-mirror/provider"
)

const defaultDirMode fs.FileMode = os.FileMode(0755) // 'rwxr-xr-x'

// Action is what a sync did (or would have done) to the local mirror.
type Action string

const (
	ActionCloned  Action = "cloned"
	ActionUpdated Action = "updated"
	ActionSkipped Action = "skipped"
	ActionRemoved Action = "removed"
)

// Outcome is the per-repository record of one sync. It is created by a
// worker and immutable once handed to the orchestrator.
type Outcome struct {
	Repo     provider.Descriptor
	Action   Action
	Success  bool
	Error    string // captured diagnostic when the sync failed
	Detail   string // eg "would clone" under dry-run
	Duration time.Duration
}

// reserved device names which can't be used as file names on windows
var reservedNames = map[string]bool{
	"con": true, "prn": true, "aux": true, "nul": true,
	"com1": true, "com2": true, "com3": true, "com4": true, "com5": true,
	"com6": true, "com7": true, "com8": true, "com9": true,
	"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true, "lpt5": true,
	"lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
}

// pathClaims tracks which repository owns which local directory for the
// duration of one run. Claims are case-insensitive so that two
// repositories whose names differ only by case can't overwrite each other
// on a case-insensitive filesystem.
type pathClaims struct {
	mu    deadlock.Mutex
	owner map[string]string // lower-cased local dir -> repo full name
}

func newPathClaims() *pathClaims {
	return &pathClaims{owner: make(map[string]string)}
}

func (c *pathClaims) claim(dir, repo string) error {
	key := strings.ToLower(dir)

	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.owner[key]; ok {
		return fmt.Errorf("local path '%s' already claimed by '%s', duplicate or case-colliding repository", dir, prev)
	}
	c.owner[key] = repo
	return nil
}

// worker drains the shared job queue, one sync at a time. Workers share no
// mutable state with each other beyond the queue and the path claims.
type worker struct {
	conf    Config
	claims  *pathClaims
	jobs    <-chan provider.Descriptor
	results chan<- Outcome
	wg      *sync.WaitGroup
	log     *slog.Logger
}

func (w *worker) start(ctx context.Context) {
	go func() {
		defer w.wg.Done()
		for repo := range w.jobs {
			w.results <- w.sync(ctx, repo)
		}
	}()
}

// sync performs the clone-or-update of one repository. It only ever
// touches the repository's own local directory.
func (w *worker) sync(ctx context.Context, repo provider.Descriptor) (out Outcome) {
	start := time.Now()
	out = Outcome{Repo: repo}
	defer func() { out.Duration = time.Since(start) }()

	log := w.log.With("repo", repo.FullName())

	dir, err := w.localDir(repo)
	if err != nil {
		out.Error = err.Error()
		return out
	}

	if err := w.claims.claim(dir, repo.FullName()); err != nil {
		out.Error = err.Error()
		return out
	}

	exists, err := dirExists(dir)
	if err != nil {
		out.Error = fmt.Sprintf("unable to check local path err:%v", err)
		return out
	}

	if w.conf.DryRun {
		out.Action = ActionSkipped
		out.Success = true
		if exists {
			out.Detail = "would update"
		} else {
			out.Detail = "would clone"
		}
		log.Info("dry-run", "action", out.Detail)
		return out
	}

	remote, err := w.remoteURL(repo)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	envs := w.gitEnvs(repo)

	if exists {
		out.Action = ActionUpdated
		// an interrupted previous run may have left a partial clone
		// behind, it can't be fetched into and has to go
		if !w.sanityCheckRepo(ctx, log, dir, envs) {
			log.Info("local copy failed checks, re-cloning", "path", dir)
			if err := os.RemoveAll(dir); err != nil {
				out.Error = fmt.Sprintf("unable to discard unusable local copy err:%v", err)
				return out
			}
			exists = false
		}
	}

	if exists {
		err = w.update(ctx, log, dir, remote, envs)
	} else {
		out.Action = ActionCloned
		err = w.clone(ctx, log, dir, remote, envs)
	}
	if err != nil {
		out.Error = err.Error()
		log.Error("sync failed", "action", out.Action, "err", out.Error)
		return out
	}

	if w.conf.RemoveAfterSync {
		if err := os.RemoveAll(dir); err != nil {
			out.Error = fmt.Sprintf("unable to remove local copy after sync err:%v", err)
			return out
		}
		out.Detail = fmt.Sprintf("%s then removed local copy", out.Action)
		out.Action = ActionRemoved
	}

	out.Success = true
	log.Info("sync complete", "action", out.Action, "time", time.Since(start))
	return out
}

// localDir returns the local mirror directory of the repository and
// rejects namespace segments which are unsafe as path elements.
func (w *worker) localDir(repo provider.Descriptor) (string, error) {
	segments := append(append([]string{}, repo.Namespace...), repo.Name)
	for _, s := range segments {
		if err := checkPathSegment(s); err != nil {
			return "", fmt.Errorf("unsafe repository path '%s' err:%w", repo.FullName(), err)
		}
	}
	return filepath.Join(w.conf.MirrorRoot, filepath.Join(segments...)), nil
}

func checkPathSegment(s string) error {
	switch {
	case s == "", s == ".", s == "..":
		return fmt.Errorf("segment '%s' is not a valid directory name", s)
	case strings.ContainsAny(s, `/\:`):
		return fmt.Errorf("segment '%s' contains a path separator", s)
	}
	base := strings.ToLower(s)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	if reservedNames[base] {
		return fmt.Errorf("segment '%s' is a reserved file name", s)
	}
	return nil
}

// remoteURL picks the remote address for the sync. With http the
// credential is embedded as a synthetic username:token pair, credentials
// on ssh remotes come from ambient key material instead.
func (w *worker) remoteURL(repo provider.Descriptor) (string, error) {
	if !w.conf.UseHTTP {
		return repo.SSHURL, nil
	}

	raw := repo.HTTPURL
	if w.conf.Auth.Password == "" || !giturl.IsHTTPSURL(raw) {
		return raw, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("unable to parse http url of '%s' err:%w", repo.FullName(), err)
	}
	username := w.conf.Auth.Username
	if username == "" {
		username = "oauth2"
	}
	u.User = url.UserPassword(username, w.conf.Auth.Password)
	return u.String(), nil
}

func (w *worker) gitEnvs(repo provider.Descriptor) []string {
	if w.conf.UseHTTP {
		return nil
	}
	if giturl.IsSCPURL(repo.SSHURL) || giturl.IsSSHURL(repo.SSHURL) {
		return []string{gitSSHCommand(w.conf.Auth)}
	}
	return nil
}

// sanityCheckRepo makes sure the existing directory is a bare repository
// git can fetch into.
func (w *worker) sanityCheckRepo(ctx context.Context, log *slog.Logger, dir string, envs []string) bool {
	// git rev-parse --is-bare-repository
	out, err := runGitCommand(ctx, log, w.conf.GitExecutable, envs, dir, "rev-parse", "--is-bare-repository")
	if err != nil {
		log.Error("unable to verify bare repo", "path", dir, "err", err)
		return false
	}
	if out != "true" {
		log.Error("local copy is not a bare repository", "path", dir)
		return false
	}
	return true
}

// clone creates a fresh bare mirror-mode clone tracking all refs.
func (w *worker) clone(ctx context.Context, log *slog.Logger, dir, remote string, envs []string) error {
	if err := os.MkdirAll(filepath.Dir(dir), defaultDirMode); err != nil {
		return fmt.Errorf("unable to create mirror parent dir err:%w", err)
	}

	// git clone --mirror <remote> <dir>
	if _, err := runGitCommand(ctx, log, w.conf.GitExecutable, envs, "", "clone", "--mirror", remote, dir); err != nil {
		return err
	}
	return nil
}

// update refreshes the stored remote url (credentials may have rotated
// since the clone) and fetches, pruning refs deleted upstream.
func (w *worker) update(ctx context.Context, log *slog.Logger, dir, remote string, envs []string) error {
	// git remote set-url origin <remote>
	if _, err := runGitCommand(ctx, log, w.conf.GitExecutable, envs, dir, "remote", "set-url", "origin", remote); err != nil {
		return err
	}

	// git fetch --prune --no-progress origin [<refspec>...]
	args := []string{"fetch", "--prune", "--no-progress", "origin"}
	args = append(args, w.conf.Refspecs...)
	if _, err := runGitCommand(ctx, log, w.conf.GitExecutable, envs, dir, args...); err != nil {
		return err
	}
	return nil
}

func dirExists(path string) (bool, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, err
	}
}
