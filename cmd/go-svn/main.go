package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/glog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	svn "github.com/cespedes/svnra"
	"github.com/cespedes/svnra/config"
)

func main() {
	err := run(os.Args[1:], os.Stdin, os.Stdout)
	glog.Flush()
	if err != nil {
		fmt.Fprintln(os.Stderr, "go-svn:", err.Error())
		os.Exit(1)
	}
}

// app is one invocation of the command.
type app struct {
	v      *viper.Viper
	fs     afero.Fs
	stdin  io.Reader
	in     *bufio.Reader
	stdout io.Writer
	cfg    *config.Config
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	a := &app{
		v:      viper.New(),
		fs:     afero.NewOsFs(),
		stdin:  stdin,
		stdout: stdout,
	}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	return root.Execute()
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "go-svn",
		Short: "go-svn is a client for the Subversion protocol",
		Long: `go-svn talks to Subversion repositories through svn://, svns://,
svn+ssh:// (or any configured svn+NAME:// tunnel) and file:// URLs.

Examples:
  go-svn info svn://host/repos/trunk
  go-svn cat -r 42 svn://host/repos/trunk/README
  go-svn mkdir -m "new branch" svn://host/repos/branches/b1`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.loadConfig,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file (default is <config-dir>/go-svn.yml)")
	flags.String("config-dir", "", "read user configuration and credentials from this directory")
	flags.String("username", "", "specify a username")
	flags.String("password", "", "specify a password")
	flags.Bool("non-interactive", false, "do no interactive prompting")
	flags.Bool("no-auth-cache", false, "do not cache authentication tokens")
	flags.StringP("revision", "r", "", "revision: NUMBER, {DATE}, HEAD, or a range N:M")
	// glog's flags: -v, -logtostderr, -log_dir...
	flags.AddGoFlagSet(flag.CommandLine)

	a.v.SetEnvPrefix("GO_SVN")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	for _, name := range []string{"config", "config-dir", "username", "password", "non-interactive", "no-auth-cache", "revision"} {
		a.v.BindPFlag(name, flags.Lookup(name))
	}

	root.AddCommand(
		a.infoCmd(),
		a.catCmd(),
		a.lsCmd(),
		a.exportCmd(),
		a.diffCmd(),
		a.replayCmd(),
		a.mkdirCmd(),
		a.rmCmd(),
		a.propsetCmd(),
		a.lockCmd(),
		a.unlockCmd(),
		a.segmentsCmd(),
	)
	return root
}

// loadConfig reads the configuration file and environment, then lets
// the command line override them.
func (a *app) loadConfig(cmd *cobra.Command, args []string) error {
	path := a.v.GetString("config")
	if path == "" {
		dir := a.v.GetString("config-dir")
		if dir == "" {
			dir = config.Default().ConfigDir
		}
		if ok, _ := afero.Exists(a.fs, filepath.Join(dir, "go-svn.yml")); ok {
			path = filepath.Join(dir, "go-svn.yml")
		}
	}
	cfg, err := config.Load(a.fs, path)
	if err != nil {
		return err
	}
	if a.v.IsSet("config-dir") {
		cfg.ConfigDir = a.v.GetString("config-dir")
	}
	if a.v.IsSet("username") {
		cfg.Username = a.v.GetString("username")
	}
	if a.v.IsSet("password") {
		cfg.Password = a.v.GetString("password")
	}
	if a.v.GetBool("non-interactive") {
		cfg.NonInteractive = true
	}
	if a.v.GetBool("no-auth-cache") {
		cfg.NoAuthCache = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	glog.V(2).Infof("go-svn: config %q, config dir %q, auth store %s", path, cfg.ConfigDir, cfg.AuthStore)
	a.cfg = cfg
	return nil
}

// revision returns the -r argument, which must not be a range.
func (a *app) revision() (svn.Revision, error) {
	s := a.v.GetString("revision")
	if strings.Contains(s, ":") {
		return svn.Revision{}, svn.Errorf(svn.ErrCodeClientBadRevision, "a revision range is not allowed here")
	}
	return svn.ParseRevision(s)
}

// revisionRange returns the -r N:M argument.  A single revision N means
// N-1:N.
func (a *app) revisionRange() (start, end svn.Revision, err error) {
	s := a.v.GetString("revision")
	lo, hi, isRange := strings.Cut(s, ":")
	if start, err = svn.ParseRevision(lo); err != nil {
		return
	}
	if !isRange {
		if start.Kind != svn.RevisionNumber || start.Number < 1 {
			return start, start, svn.Errorf(svn.ErrCodeClientBadRevision, "need a revision range, as in -r N:M")
		}
		return svn.Number(start.Number - 1), start, nil
	}
	end, err = svn.ParseRevision(hi)
	return
}
