package vcs

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/openmined/filesyncer/internal/utils"
	gossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const shellSpecialChars = " \t\n\r\"'`$\\|&;<>(){}[]!*?"

// EscapeShellArg backslash-escapes characters the shell would interpret.
func EscapeShellArg(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, ch := range input {
		if strings.ContainsRune(shellSpecialChars, ch) {
			b.WriteByte('\\')
		}
		b.WriteRune(ch)
	}
	return b.String()
}

// BuildGitSSHCommand returns a GIT_SSH_COMMAND value that authenticates with
// the given private key only and accepts unknown host keys on first use.
func BuildGitSSHCommand(sshKeyPath string) string {
	return fmt.Sprintf("ssh -i %s -o IdentitiesOnly=yes -o StrictHostKeyChecking=accept-new", EscapeShellArg(sshKeyPath))
}

// IsSSHURL reports whether remoteURL uses the ssh transport, including the
// scp-like user@host:path form.
func IsSSHURL(remoteURL string) bool {
	if strings.Contains(remoteURL, "://") {
		u, err := url.Parse(remoteURL)
		if err != nil {
			return false
		}
		switch u.Scheme {
		case "ssh", "git+ssh", "ssh+git":
			return true
		}
		return false
	}
	// scp-like syntax: [user@]host:path, but not a windows drive letter
	host, _, ok := strings.Cut(remoteURL, ":")
	return ok && len(host) > 1 && !strings.ContainsAny(host, `/\`)
}

// sshUser extracts the user of an ssh URL, defaulting to "git".
func sshUser(remoteURL string) string {
	if strings.Contains(remoteURL, "://") {
		if u, err := url.Parse(remoteURL); err == nil && u.User != nil && u.User.Username() != "" {
			return u.User.Username()
		}
		return "git"
	}
	if user, _, ok := strings.Cut(remoteURL, "@"); ok && user != "" && !strings.Contains(user, ":") {
		return user
	}
	return "git"
}

// sshAuth builds go-git ssh auth for a remote. It returns nil when no key is
// configured or the remote is not an ssh URL.
func sshAuth(remote Remote) (transport.AuthMethod, error) {
	if remote.SSHKeyPath == "" {
		return nil, nil
	}
	if !IsSSHURL(remote.URL) {
		slog.Warn("ssh key ignored for non-ssh remote", "url", utils.RedactURL(remote.URL))
		return nil, nil
	}
	if _, err := os.Stat(remote.SSHKeyPath); err != nil {
		return nil, fmt.Errorf("ssh private key %s: %w", remote.SSHKeyPath, err)
	}

	auth, err := ssh.NewPublicKeysFromFile(sshUser(remote.URL), remote.SSHKeyPath, "")
	if err != nil {
		return nil, fmt.Errorf("load ssh key from %s: %w", remote.SSHKeyPath, err)
	}
	auth.HostKeyCallback = hostKeyCallback()
	return auth, nil
}

// hostKeyCallback mirrors StrictHostKeyChecking=accept-new: keys found in
// known_hosts must match, unknown hosts are accepted.
func hostKeyCallback() gossh.HostKeyCallback {
	cb, err := ssh.NewKnownHostsCallback()
	if err != nil {
		slog.Debug("no usable known_hosts, accepting host keys", "error", err)
		return gossh.InsecureIgnoreHostKey()
	}
	return func(hostname string, remote net.Addr, key gossh.PublicKey) error {
		err := cb(hostname, remote, key)
		var keyErr *knownhosts.KeyError
		if errors.As(err, &keyErr) && len(keyErr.Want) == 0 {
			slog.Warn("accepting unknown ssh host key", "host", hostname)
			return nil
		}
		return err
	}
}
