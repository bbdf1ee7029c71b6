package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/beaufort-labs/git-mirror/auth"
	"github.com/beaufort-labs/git-mirror/mirror"
	"github.com/beaufort-labs/git-mirror/provider"
)

const appName = "git-mirror"

// set via -ldflags "-X main.version=..."
var version = "dev"

var (
	loggerLevel = new(slog.LevelVar)
	logger      *slog.Logger

	// -v occurrences to log level
	verbosityLevels = []slog.Level{
		slog.LevelError,
		slog.LevelWarn,
		slog.LevelInfo,
		slog.LevelDebug,
		slog.Level(-8), // trace
	}

	verboseCount int

	flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "provider",
			Aliases: []string{"p"},
			Value:   "gitlab",
			Usage:   "Provider to use for fetching repositories (gitlab or github)",
		},
		&cli.StringFlag{
			Name:    "url",
			Aliases: []string{"u"},
			Usage:   "URL of the instance to get repositories from (defaults to https://gitlab.com or https://api.github.com)",
		},
		&cli.StringFlag{
			Name:    "group",
			Aliases: []string{"g"},
			Usage:   "Name of the group/organization to check for repositories to sync",
		},
		&cli.StringFlag{
			Name:    "mirror-dir",
			Aliases: []string{"m"},
			Value:   "./mirror-dir",
			Usage:   "Directory where the local clones are stored",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Verbosity level, repeat for more detail",
			Config:  cli.BoolConfig{Count: &verboseCount},
		},
		&cli.BoolFlag{
			Name:  "http",
			Usage: "Use http(s) instead of SSH to sync the repositories",
		},
		&cli.BoolFlag{
			Name:  "dry-run",
			Usage: "Only print what to do without actually running any git commands",
		},
		&cli.IntFlag{
			Name:    "worker-count",
			Aliases: []string{"c"},
			Value:   1,
			Usage:   "Number of concurrent mirror jobs",
		},
		&cli.StringFlag{
			Name:  "metric-file",
			Usage: "Location where to store metrics for consumption by Prometheus node exporter's text file collector",
		},
		&cli.StringFlag{
			Name:  "junit-report",
			Usage: "Location where to store the JUnit XML report",
		},
		&cli.StringFlag{
			Name:  "git-executable",
			Value: "git",
			Usage: "Git executable to use",
		},
		&cli.StringFlag{
			Name:    "private-token",
			Sources: cli.EnvVars("PRIVATE_TOKEN"),
			Usage:   "Private token or Personal access token to access the GitLab or GitHub API",
		},
		&cli.StringSliceFlag{
			Name:  "refspec",
			Usage: "Refspec used to mirror repositories, can be given multiple times",
		},
		&cli.BoolFlag{
			Name:  "remove-workrepo",
			Usage: "Remove the local repository after syncing. This requires a full re-clone on the next run.",
		},
		&cli.StringFlag{
			Name:    "config",
			Sources: cli.EnvVars("GIT_MIRROR_CONFIG"),
			Usage:   "Path to an optional YAML config file, flags take precedence",
		},
	}
)

func init() {
	loggerLevel.Set(slog.LevelError)
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: loggerLevel,
	}))
}

func parseConfigFile(path string) (*mirror.Config, error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	conf := &mirror.Config{}
	if err := yaml.Unmarshal(yamlFile, conf); err != nil {
		return nil, err
	}
	return conf, nil
}

// buildConfig overlays command line flags on the optional config file.
func buildConfig(c *cli.Command) (*mirror.Config, error) {
	conf := &mirror.Config{}

	if path := c.String("config"); path != "" {
		var err error
		if conf, err = parseConfigFile(path); err != nil {
			return nil, fmt.Errorf("unable to parse config file err:%w", err)
		}
	}

	setString := func(flag string, dst *string) {
		if c.IsSet(flag) || *dst == "" {
			*dst = c.String(flag)
		}
	}

	setString("mirror-dir", &conf.MirrorRoot)
	setString("git-executable", &conf.GitExecutable)
	setString("metric-file", &conf.MetricsFile)
	setString("junit-report", &conf.JUnitFile)
	setString("private-token", &conf.Auth.Password)

	if c.Bool("http") {
		conf.UseHTTP = true
	}
	if c.Bool("dry-run") {
		conf.DryRun = true
	}
	if c.Bool("remove-workrepo") {
		conf.RemoveAfterSync = true
	}
	if c.IsSet("worker-count") || conf.WorkerCount == 0 {
		conf.WorkerCount = int(c.Int("worker-count"))
	}
	if refspecs := c.StringSlice("refspec"); len(refspecs) > 0 {
		conf.Refspecs = refspecs
	}

	conf.ApplyDefaults()
	return conf, nil
}

func selectProvider(c *cli.Command, conf *mirror.Config) (provider.Provider, error) {
	name := strings.ToLower(c.String("provider"))
	group := c.String("group")
	if group == "" {
		return nil, fmt.Errorf("a group/organization is required, see --group")
	}

	userAgent := fmt.Sprintf("%s/%s", appName, version)

	switch name {
	case "gitlab":
		url := c.String("url")
		if url == "" {
			url = "https://gitlab.com"
		}
		return provider.NewGitLab(url, group, conf.Auth.Password, userAgent, logger)
	case "github":
		url := c.String("url")
		if url == "" {
			url = "https://api.github.com"
		}
		return provider.NewGitHub(url, group, conf.Auth.Password, userAgent, logger)
	default:
		return nil, fmt.Errorf("unknown provider %q, must be gitlab or github", name)
	}
}

// ensureGithubAppToken mints an installation token when the github app
// auth attributes are configured and no token was given directly.
func ensureGithubAppToken(ctx context.Context, c *cli.Command, conf *mirror.Config) error {
	if conf.Auth.Password != "" || conf.Auth.GithubAppID == "" {
		return nil
	}

	apiBase := c.String("url")
	if apiBase == "" {
		apiBase = "https://api.github.com"
	}

	token, err := auth.GithubAppInstallationToken(ctx, apiBase,
		conf.Auth.GithubAppID, conf.Auth.GithubAppInstallationID, conf.Auth.GithubAppPrivateKeyPath,
		auth.GithubAppTokenReqPermissions{
			Permissions: map[string]string{"contents": "read"},
		})
	if err != nil {
		return fmt.Errorf("unable to get github app token err:%w", err)
	}

	conf.Auth.Password = token.Token
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:  appName,
		Usage: "mirror all repositories of a GitLab group or GitHub organization locally",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if verboseCount >= len(verbosityLevels) {
				verboseCount = len(verbosityLevels) - 1
			}
			loggerLevel.Set(verbosityLevels[verboseCount])

			conf, err := buildConfig(c)
			if err != nil {
				return err
			}

			if err := ensureGithubAppToken(ctx, c, conf); err != nil {
				return err
			}

			p, err := selectProvider(c, conf)
			if err != nil {
				return err
			}

			res, err := mirror.Run(ctx, p, *conf, logger)
			if err != nil {
				logger.Error("run failed", "err", err)
				os.Exit(2)
			}
			if !res.Ok() {
				logger.Error("one or more repositories failed to sync",
					"failed", res.Failed, "total", res.Total)
				os.Exit(2)
			}

			logger.Info("all done", "total", res.Total, "skipped", res.Skipped)
			return nil
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logger.Error("failed to run app", "err", err)
		os.Exit(1)
	}
}
