package rasvn

import (
	"net/url"
	"os"
	"os/exec"
	"strings"

	"github.com/golang/glog"
	"github.com/mattn/go-shellwords"

	svn "github.com/cespedes/svnra"
	"github.com/cespedes/svnra/ra"
)

// defaultSSH is run for "svn+ssh" URLs unless $SVN_SSH or the tunnel
// configuration say otherwise.
const defaultSSH = "ssh -q"

// tunnelCommand returns the command line reaching the svnserve for u.
//
// A configured tunnel command may start with "$VAR", meaning the
// contents of the environment variable VAR if it is set, and the rest
// of the command otherwise.
func tunnelCommand(u *url.URL, tunnels map[string]string) ([]string, error) {
	if u.Scheme == "file" {
		return []string{"svnserve", "-t"}, nil
	}
	name, ok := strings.CutPrefix(u.Scheme, "svn+")
	if !ok || name == "" {
		return nil, svn.Errorf(svn.ErrCodeRAIllegalURL, "unrecognized URL scheme %q", u.Scheme)
	}
	line, ok := tunnels[name]
	if !ok {
		if name != "ssh" {
			return nil, svn.Errorf(svn.ErrCodeRAIllegalURL, "undefined tunnel scheme %q", name)
		}
		line = "$SVN_SSH " + defaultSSH
	}
	if rest, ok := strings.CutPrefix(line, "$"); ok {
		v, fallback, _ := strings.Cut(rest, " ")
		if env := os.Getenv(v); env != "" {
			line = env
		} else {
			line = fallback
		}
	}
	args, err := shellwords.Parse(line)
	if err != nil {
		return nil, svn.Wrap(err, svn.ErrCodeRAIllegalURL, "malformed tunnel command %q", line)
	}
	if len(args) == 0 {
		return nil, svn.Errorf(svn.ErrCodeRAIllegalURL, "empty tunnel command for %q", name)
	}
	host := u.Hostname()
	if user := u.User.Username(); user != "" {
		host = user + "@" + host
	}
	return append(args, host, "svnserve", "-t"), nil
}

// dialTunnel runs the tunnel for u and speaks to it through its
// standard input and output.  "file" URLs become "svn" URLs for the
// local svnserve.
func dialTunnel(u *url.URL, cfg ra.DialConfig) (*Client, error) {
	args, err := tunnelCommand(u, cfg.Tunnels)
	if err != nil {
		return nil, err
	}
	glog.V(2).Infof("rasvn: tunnel %q", args)
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stderr = os.Stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, svn.Wrap(err, svn.ErrCodeRASvnIOError, "can't run tunnel %q", args[0])
	}
	rawURL := u.String()
	if u.Scheme == "file" {
		local := *u
		local.Scheme = "svn"
		rawURL = local.String()
	}
	c, err := newClient(stdout, stdin, rawURL, cfg, true)
	if err != nil {
		cmd.Wait()
		return nil, err
	}
	c.cmd = cmd
	return c, nil
}
