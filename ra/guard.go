package ra

import (
	"sync"

	svn "github.com/cespedes/svnra"
	"github.com/cespedes/svnra/editor"
)

// guardedReporter releases the session guard when the report ends, and
// refuses calls after that.
type guardedReporter struct {
	r       Reporter
	once    sync.Once
	release func()
	done    bool
}

func (g *guardedReporter) check() error {
	if g.done {
		return svn.Errorf(svn.ErrCodeIncorrectParams, "report already finished")
	}
	return nil
}

func (g *guardedReporter) end(fn func() error) error {
	if err := g.check(); err != nil {
		return err
	}
	g.done = true
	defer g.once.Do(g.release)
	return fn()
}

func (g *guardedReporter) SetPath(path string, rev svn.Revnum, depth svn.Depth, startEmpty bool, lockToken string) error {
	if err := g.check(); err != nil {
		return err
	}
	return g.r.SetPath(path, rev, depth, startEmpty, lockToken)
}

func (g *guardedReporter) DeletePath(path string) error {
	if err := g.check(); err != nil {
		return err
	}
	return g.r.DeletePath(path)
}

func (g *guardedReporter) LinkPath(path, url string, rev svn.Revnum, depth svn.Depth, startEmpty bool, lockToken string) error {
	if err := g.check(); err != nil {
		return err
	}
	return g.r.LinkPath(path, url, rev, depth, startEmpty, lockToken)
}

func (g *guardedReporter) FinishReport() error {
	return g.end(g.r.FinishReport)
}

func (g *guardedReporter) AbortReport() error {
	return g.end(g.r.AbortReport)
}

// releasingEditor releases the session guard once the edit ends.
type releasingEditor struct {
	editor.Editor
	once    sync.Once
	release func()
}

func (e *releasingEditor) Close() error {
	defer e.once.Do(e.release)
	return e.Editor.Close()
}

func (e *releasingEditor) Abort() error {
	defer e.once.Do(e.release)
	return e.Editor.Abort()
}
