package mirror

import (
	"errors"
	"fmt"
)

// Auth holds the credentials used for listing and for fetching remotes.
type Auth struct {
	// username to use with the token on authenticated http remotes.
	// GitLab accepts "oauth2" and GitHub ignores the username, so the
	// default works against both.
	Username string `yaml:"username"`

	// private token or personal access token, used both for the provider
	// API and embedded in the https clone URL. Never logged.
	Password string `yaml:"password"`

	// SSH details, used when mirroring over ssh
	SSHKeyPath        string `yaml:"ssh_key_path"`
	SSHKnownHostsPath string `yaml:"ssh_known_hosts_path"`

	// Github App details, an installation token is minted at startup and
	// used in place of the password
	GithubAppID             string `yaml:"github_app_id"`
	GithubAppInstallationID string `yaml:"github_app_installation_id"`
	GithubAppPrivateKeyPath string `yaml:"github_app_private_key_path"`
}

// Config holds all options of one mirror run. It is constructed by the CLI
// layer, validated once and immutable afterwards; the orchestrator passes
// it into every worker.
type Config struct {
	// MirrorRoot is the base directory under which every repository mirror
	// is created at <MirrorRoot>/<namespace path...>/<name>
	MirrorRoot string `yaml:"mirror_root"`

	// UseHTTP selects the https remote over the ssh one
	UseHTTP bool `yaml:"use_http"`

	Auth Auth `yaml:"auth"`

	// WorkerCount is the number of concurrent sync workers, 1 means
	// strictly sequential processing
	WorkerCount int `yaml:"worker_count"`

	// DryRun only reports what would be done, no subprocess is invoked
	// and no directory is created or mutated
	DryRun bool `yaml:"dry_run"`

	// Refspecs overrides the refspec used on fetch. If empty the mirror
	// clone's own "+refs/*:refs/*" configuration applies.
	Refspecs []string `yaml:"refspecs"`

	// RemoveAfterSync deletes the local copy after a successful sync,
	// trading disk usage for a full re-clone on the next run
	RemoveAfterSync bool `yaml:"remove_after_sync"`

	// MetricsFile is where the node exporter textfile snapshot is written,
	// empty disables it
	MetricsFile string `yaml:"metrics_file"`

	// JUnitFile is where the junit xml report is written, empty disables
	// it. If set it is written even when listing fails.
	JUnitFile string `yaml:"junit_file"`

	// GitExecutable is the path or name of the external git program
	GitExecutable string `yaml:"git_executable"`
}

// ApplyDefaults fills the fields the CLI layer left unset.
func (c *Config) ApplyDefaults() {
	if c.WorkerCount == 0 {
		c.WorkerCount = 1
	}
	if c.GitExecutable == "" {
		c.GitExecutable = "git"
	}
}

// Validate verifies semantic preconditions of the run. It is called before
// any network or subprocess activity begins.
func (c *Config) Validate() error {
	var errs []error

	if c.MirrorRoot == "" {
		errs = append(errs, fmt.Errorf("mirror root must be set"))
	}

	if c.WorkerCount < 1 {
		errs = append(errs, fmt.Errorf("worker count must be positive, got %d", c.WorkerCount))
	}

	if c.GitExecutable == "" {
		errs = append(errs, fmt.Errorf("git executable must be set"))
	}

	for _, rs := range c.Refspecs {
		if rs == "" {
			errs = append(errs, fmt.Errorf("empty refspec provided"))
		}
	}

	// if any of the github app config is set all should be set
	if c.Auth.GithubAppID != "" ||
		c.Auth.GithubAppInstallationID != "" ||
		c.Auth.GithubAppPrivateKeyPath != "" {
		if c.Auth.GithubAppID == "" ||
			c.Auth.GithubAppInstallationID == "" ||
			c.Auth.GithubAppPrivateKeyPath == "" {
			errs = append(errs, fmt.Errorf("all of the Github app attributes are required"))
		}
	}

	return errors.Join(errs...)
}
