package main

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	svn "github.com/cespedes/svnra"
	"github.com/cespedes/svnra/editor"
	"github.com/cespedes/svnra/ra"
)

// session opens rawURL and resolves the -r argument against it.
func (a *app) session(rawURL string) (*ra.Session, svn.Revnum, error) {
	r, err := a.revision()
	if err != nil {
		return nil, svn.InvalidRevnum, err
	}
	s, err := a.open(rawURL)
	if err != nil {
		return nil, svn.InvalidRevnum, err
	}
	rev, err := s.ResolveRevision(r)
	if err != nil {
		s.Close()
		return nil, svn.InvalidRevnum, err
	}
	return s, rev, nil
}

func (a *app) infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info URL",
		Short: "Display information about a remote item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, rev, err := a.session(args[0])
			if err != nil {
				return err
			}
			defer s.Close()
			stat, err := s.Stat("", rev)
			if err != nil {
				return err
			}
			if stat == nil {
				return svn.Errorf(svn.ErrCodeFSNotFound, "'%s' does not exist in revision %d", args[0], rev)
			}
			url := s.SessionURL()
			rel := "^" + strings.TrimPrefix(url, s.ReposRoot())
			if rel == "^" {
				rel = "^/"
			}
			w := a.stdout
			fmt.Fprintf(w, "Path: %s\n", filepath.Base(url))
			fmt.Fprintf(w, "URL: %s\n", url)
			fmt.Fprintf(w, "Relative URL: %s\n", rel)
			fmt.Fprintf(w, "Repository Root: %s\n", s.ReposRoot())
			fmt.Fprintf(w, "Repository UUID: %s\n", s.UUID())
			fmt.Fprintf(w, "Revision: %d\n", rev)
			fmt.Fprintf(w, "Node Kind: %s\n", nodeKindName(stat.Kind))
			fmt.Fprintf(w, "Last Changed Author: %s\n", stat.LastAuthor)
			fmt.Fprintf(w, "Last Changed Rev: %d\n", stat.CreatedRev)
			fmt.Fprintf(w, "Last Changed Date: %s\n", stat.CreatedDate.Local().Format("2006-01-02 15:04:05 -0700 (Mon, 02 Jan 2006)"))
			return nil
		},
	}
}

func nodeKindName(k svn.NodeKind) string {
	if k == svn.NodeDir {
		return "directory"
	}
	return k.String()
}

func (a *app) catCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat URL",
		Short: "Output the contents of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, rev, err := a.session(args[0])
			if err != nil {
				return err
			}
			defer s.Close()
			_, _, err = s.GetFile("", rev, a.stdout)
			return err
		},
	}
}

func (a *app) lsCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "ls URL",
		Short: "List directory entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, rev, err := a.session(args[0])
			if err != nil {
				return err
			}
			defer s.Close()
			_, dirents, _, err := s.GetDir("", rev)
			if err != nil {
				return err
			}
			slices.SortFunc(dirents, func(x, y svn.Dirent) int {
				return strings.Compare(x.Path, y.Path)
			})
			if !verbose {
				for _, entry := range dirents {
					p := entry.Path
					if entry.Kind == svn.NodeDir {
						p += "/"
					}
					fmt.Fprintln(a.stdout, p)
				}
				return nil
			}
			maxAuthorLen := 8
			maxRevLen := 5
			maxSizeLen := 6
			for _, entry := range dirents {
				maxAuthorLen = max(maxAuthorLen, len(entry.LastAuthor))
				maxRevLen = max(maxRevLen, len(entry.CreatedRev.String()))
				if entry.Kind == svn.NodeFile {
					maxSizeLen = max(maxSizeLen, len(fmt.Sprint(entry.Size)))
				}
			}
			for _, entry := range dirents {
				p := entry.Path
				size := fmt.Sprint(entry.Size)
				if entry.Kind == svn.NodeDir {
					size = ""
					p += "/"
				}
				fmt.Fprintf(a.stdout, "%*d %-*s %*s %s %s\n",
					maxRevLen, entry.CreatedRev,
					maxAuthorLen, entry.LastAuthor,
					maxSizeLen, size,
					entry.CreatedDate.UTC().Format("Jan 02 15:04"), p)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&verbose, "verbose", false, "print extra information")
	return cmd
}

func (a *app) exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export URL DIR",
		Short: "Write a clean copy of a tree into DIR",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, rev, err := a.session(args[0])
			if err != nil {
				return err
			}
			defer s.Close()
			rec := editor.NewRecorder()
			rep, err := s.DoUpdate(rev, "", svn.DepthInfinity, false, rec)
			if err != nil {
				return err
			}
			if err := rep.SetPath("", rev, svn.DepthInfinity, true, ""); err != nil {
				rep.AbortReport()
				return err
			}
			if err := rep.FinishReport(); err != nil {
				return err
			}
			return a.writeTree(args[1], rec)
		},
	}
}

// writeTree writes the tree recorded by rec under dir.  Files with
// svn:eol-style native get the configured line ending.
func (a *app) writeTree(dir string, rec *editor.Recorder) error {
	if err := a.fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, line := range rec.Log {
		p, ok := strings.CutPrefix(line, "add_directory ")
		if !ok {
			continue
		}
		p, _, _ = strings.Cut(p, " (from ")
		if err := a.fs.MkdirAll(filepath.Join(dir, filepath.FromSlash(p)), 0o755); err != nil {
			return err
		}
	}
	paths := make([]string, 0, len(rec.Files))
	for p := range rec.Files {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	for _, p := range paths {
		text := rec.Files[p]
		if string(rec.Props[p]["svn:eol-style"]) == "native" {
			text = nativeEOL(text, a.cfg.EOL.Bytes())
		}
		name := filepath.Join(dir, filepath.FromSlash(p))
		if err := a.fs.MkdirAll(filepath.Dir(name), 0o755); err != nil {
			return err
		}
		if err := afero.WriteFile(a.fs, name, text, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "A    %s\n", filepath.Join(dir, filepath.FromSlash(p)))
	}
	fmt.Fprintf(a.stdout, "Exported revision %d.\n", rec.Target)
	return nil
}

// nativeEOL rewrites the line endings of text as eol.
func nativeEOL(text, eol []byte) []byte {
	s := strings.ReplaceAll(string(text), "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return []byte(strings.ReplaceAll(s, "\n", string(eol)))
}

func (a *app) diffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diff -r N:M URL [NEW-URL]",
		Short: "Show the edit turning URL@N into NEW-URL@M",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := a.revisionRange()
			if err != nil {
				return err
			}
			s, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer s.Close()
			from, err := s.ResolveRevision(start)
			if err != nil {
				return err
			}
			to, err := s.ResolveRevision(end)
			if err != nil {
				return err
			}
			versus := s.SessionURL()
			if len(args) == 2 {
				versus = args[1]
			}
			rec := editor.NewRecorder()
			rec.Out = a.stdout
			rep, err := s.DoDiff(to, "", svn.DepthInfinity, false, false, versus, rec)
			if err != nil {
				return err
			}
			if err := rep.SetPath("", from, svn.DepthInfinity, false, ""); err != nil {
				rep.AbortReport()
				return err
			}
			return rep.FinishReport()
		},
	}
}

func (a *app) replayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay -r N:M URL",
		Short: "Show the changes made by revisions N to M",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := a.revisionRange()
			if err != nil {
				return err
			}
			s, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer s.Close()
			lo, err := s.ResolveRevision(start)
			if err != nil {
				return err
			}
			hi, err := s.ResolveRevision(end)
			if err != nil {
				return err
			}
			return s.ReplayRange(max(lo, 1), hi, 0, false,
				func(rev svn.Revnum, props svn.Props) (editor.Editor, error) {
					fmt.Fprintf(a.stdout, "r%d | %s | %s\n", rev, props[svn.PropRevisionAuthor], props[svn.PropRevisionDate])
					rec := editor.NewRecorder()
					rec.Out = a.stdout
					return rec, nil
				},
				func(rev svn.Revnum, props svn.Props, ed editor.Editor) error {
					if msg := props[svn.PropRevisionLog]; len(msg) > 0 {
						fmt.Fprintf(a.stdout, "\n%s\n", msg)
					}
					return nil
				})
		},
	}
}

// commit runs edit on the session directory in a new revision.
func (a *app) commit(s *ra.Session, msg string, edit func(dir editor.DirEditor, base svn.Revnum) error) error {
	base, err := s.LatestRevnum()
	if err != nil {
		return err
	}
	var info svn.CommitInfo
	ed, err := s.CommitEditor(svn.Props{svn.PropRevisionLog: []byte(msg)}, func(ci svn.CommitInfo) error {
		info = ci
		return nil
	}, nil, false)
	if err != nil {
		return err
	}
	root, err := ed.OpenRoot(base)
	if err == nil {
		err = edit(root, base)
	}
	if err == nil {
		err = root.Close()
	}
	if err != nil {
		ed.Abort()
		return err
	}
	if err := ed.Close(); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "\nCommitted revision %d.\n", info.Revision)
	if info.PostCommitErr != "" {
		fmt.Fprintf(a.stdout, "Warning: post-commit hook failed: %s\n", info.PostCommitErr)
	}
	return nil
}

func messageFlag(cmd *cobra.Command, msg *string) {
	cmd.Flags().StringVarP(msg, "message", "m", "", "specify log message")
	cmd.MarkFlagRequired("message")
}

func (a *app) mkdirCmd() *cobra.Command {
	var msg string
	cmd := &cobra.Command{
		Use:   "mkdir URL...",
		Short: "Create directories in the repository",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parent, names, err := splitURLs(args)
			if err != nil {
				return err
			}
			s, err := a.open(parent)
			if err != nil {
				return err
			}
			defer s.Close()
			return a.commit(s, msg, func(dir editor.DirEditor, _ svn.Revnum) error {
				for _, name := range names {
					sub, err := dir.AddDirectory(name, "", svn.InvalidRevnum)
					if err != nil {
						return err
					}
					if err := sub.Close(); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	messageFlag(cmd, &msg)
	return cmd
}

func (a *app) rmCmd() *cobra.Command {
	var msg string
	cmd := &cobra.Command{
		Use:   "rm URL...",
		Short: "Remove files and directories from the repository",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parent, names, err := splitURLs(args)
			if err != nil {
				return err
			}
			s, err := a.open(parent)
			if err != nil {
				return err
			}
			defer s.Close()
			return a.commit(s, msg, func(dir editor.DirEditor, base svn.Revnum) error {
				for _, name := range names {
					if err := dir.DeleteEntry(name, base); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	messageFlag(cmd, &msg)
	return cmd
}

func (a *app) propsetCmd() *cobra.Command {
	var msg string
	cmd := &cobra.Command{
		Use:   "propset NAME VALUE URL",
		Short: "Set a versioned property on a file or directory",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, value := args[0], []byte(args[1])
			parent, entry, err := splitURL(args[2])
			if err != nil {
				return err
			}
			s, err := a.open(parent)
			if err != nil {
				return err
			}
			defer s.Close()
			kind, err := s.CheckPath(entry, svn.InvalidRevnum)
			if err != nil {
				return err
			}
			return a.commit(s, msg, func(dir editor.DirEditor, base svn.Revnum) error {
				switch kind {
				case svn.NodeDir:
					sub, err := dir.OpenDirectory(entry, base)
					if err != nil {
						return err
					}
					if err := sub.ChangeProp(name, value); err != nil {
						return err
					}
					return sub.Close()
				case svn.NodeFile:
					f, err := dir.OpenFile(entry, base)
					if err != nil {
						return err
					}
					if err := f.ChangeProp(name, value); err != nil {
						return err
					}
					return f.Close("")
				}
				return svn.Errorf(svn.ErrCodeFSNotFound, "path '%s' does not exist in revision %d", entry, base)
			})
		},
	}
	messageFlag(cmd, &msg)
	return cmd
}

// lockResults prints the outcome of each path of a lock or unlock, and
// returns an error if any failed.
func (a *app) lockResults(verb string) (ra.LockFunc, func() error) {
	var failed []string
	fn := func(path string, stolen bool, l *svn.Lock, err error) error {
		if err != nil {
			failed = append(failed, path)
			fmt.Fprintf(a.stdout, "svn: warning: %v\n", err)
			return nil
		}
		switch {
		case verb == "locked" && stolen:
			fmt.Fprintf(a.stdout, "'%s' %s by user '%s', stealing the previous lock.\n", path, verb, l.Owner)
		case verb == "locked":
			fmt.Fprintf(a.stdout, "'%s' %s by user '%s'.\n", path, verb, l.Owner)
		case stolen && l != nil:
			fmt.Fprintf(a.stdout, "'%s' %s, breaking the lock of user '%s'.\n", path, verb, l.Owner)
		default:
			fmt.Fprintf(a.stdout, "'%s' %s.\n", path, verb)
		}
		return nil
	}
	done := func() error {
		if len(failed) > 0 {
			return fmt.Errorf("one or more locks could not be %s: %s", verb, strings.Join(failed, ", "))
		}
		return nil
	}
	return fn, done
}

func (a *app) lockCmd() *cobra.Command {
	var msg string
	var force bool
	cmd := &cobra.Command{
		Use:   "lock URL...",
		Short: "Lock files in the repository",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parent, names, err := splitURLs(args)
			if err != nil {
				return err
			}
			s, err := a.open(parent)
			if err != nil {
				return err
			}
			defer s.Close()
			pathRevs := make(map[string]svn.Revnum)
			for _, name := range names {
				pathRevs[name] = svn.InvalidRevnum
			}
			fn, done := a.lockResults("locked")
			if err := s.Lock(pathRevs, msg, force, fn); err != nil {
				return err
			}
			return done()
		},
	}
	cmd.Flags().StringVarP(&msg, "message", "m", "", "specify lock comment")
	cmd.Flags().BoolVar(&force, "force", false, "steal locks")
	return cmd
}

func (a *app) unlockCmd() *cobra.Command {
	var token string
	var force bool
	cmd := &cobra.Command{
		Use:   "unlock URL...",
		Short: "Unlock files in the repository",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" && !force {
				return fmt.Errorf("unlocking by URL needs --token or --force")
			}
			parent, names, err := splitURLs(args)
			if err != nil {
				return err
			}
			s, err := a.open(parent)
			if err != nil {
				return err
			}
			defer s.Close()
			pathTokens := make(map[string]string)
			for _, name := range names {
				pathTokens[name] = token
			}
			fn, done := a.lockResults("unlocked")
			if err := s.Unlock(pathTokens, force, fn); err != nil {
				return err
			}
			return done()
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "lock token to release")
	cmd.Flags().BoolVar(&force, "force", false, "break locks")
	return cmd
}

func (a *app) segmentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "segments URL",
		Short: "Show the locations of a node through its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, peg, err := a.session(args[0])
			if err != nil {
				return err
			}
			defer s.Close()
			return s.LocationSegments("", peg, peg, 0, func(seg svn.LocationSegment) error {
				p := "/" + seg.Path
				if seg.Gap {
					p = "(gap)"
				}
				fmt.Fprintf(a.stdout, "%d-%d %s\n", seg.Start, seg.End, p)
				return nil
			})
		},
	}
}
