package mirror

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

const levelTrace = slog.Level(-8)

// matches the userinfo section of an embedded-credential url
var urlCredsRgx = regexp.MustCompile(`(https?://)[^/@\s]+@`)

// redactURLCreds removes embedded url credentials so command lines can be
// logged and carried in error strings
func redactURLCreds(s string) string {
	return urlCredsRgx.ReplaceAllString(s, "${1}*****@")
}

// runGitCommand runs the configured git executable with given arguments on
// given CWD and returns trimmed stdout. On non-zero exit the returned error
// carries the captured stdout and stderr of the process.
func runGitCommand(ctx context.Context, log *slog.Logger, gitExec string, envs []string, cwd string, args ...string) (string, error) {

	cmdStr := redactURLCreds(gitExec + " " + strings.Join(args, " "))
	log.Log(ctx, levelTrace, "running command", "cwd", cwd, "cmd", cmdStr)

	cmd := exec.CommandContext(ctx, gitExec, args...)
	if cwd != "" {
		cmd.Dir = cwd
	}
	outbuf := bytes.NewBuffer(nil)
	errbuf := bytes.NewBuffer(nil)
	cmd.Stdout = outbuf
	cmd.Stderr = errbuf

	if len(envs) > 0 {
		cmd.Env = append(os.Environ(), envs...)
	}

	start := time.Now()
	err := cmd.Run()
	runTime := time.Since(start)

	stdout := strings.TrimSpace(outbuf.String())
	stderr := strings.TrimSpace(errbuf.String())
	if ctx.Err() == context.DeadlineExceeded {
		err = ctx.Err()
	}
	if err != nil {
		return "", fmt.Errorf("Run(%s): err:%w { stdout: %q, stderr: %q }",
			cmdStr, err, redactURLCreds(stdout), redactURLCreds(stderr))
	}
	log.Log(ctx, levelTrace, "command result", "stdout", stdout, "stderr", stderr, "time", runTime)

	return stdout, nil
}

// gitSSHCommand returns the environment variable to be used for
// configuring git over ssh.
func gitSSHCommand(auth Auth) string {
	sshKeyPath := auth.SSHKeyPath
	if sshKeyPath == "" {
		sshKeyPath = "/dev/null"
	}
	knownHostsOptions := "-o UserKnownHostsFile=/dev/null -o StrictHostKeyChecking=no"
	if auth.SSHKeyPath != "" && auth.SSHKnownHostsPath != "" {
		knownHostsOptions = fmt.Sprintf("-o UserKnownHostsFile=%s", auth.SSHKnownHostsPath)
	}
	return fmt.Sprintf(`GIT_SSH_COMMAND=ssh -q -F none -o IdentitiesOnly=yes -o IdentityFile=%s %s`, sshKeyPath, knownHostsOptions)
}
