package rasvn

import (
	svn "github.com/cespedes/svnra"
	"github.com/cespedes/svnra/editor"
)

// reporter sends a report for an update, switch or diff, and receives
// the edit it triggers into ed.
type reporter struct {
	c  *Client
	ed editor.Editor
}

func (r *reporter) SetPath(path string, rev svn.Revnum, depth svn.Depth, startEmpty bool, lockToken string) error {
	return r.c.conn.WriteCommand("set-path", []byte(path), rev, startEmpty, svn.OptString(lockToken), depth.String())
}

func (r *reporter) DeletePath(path string) error {
	return r.c.conn.WriteCommand("delete-path", []byte(path))
}

func (r *reporter) LinkPath(path, url string, rev svn.Revnum, depth svn.Depth, startEmpty bool, lockToken string) error {
	return r.c.conn.WriteCommand("link-path", []byte(path), []byte(url), rev, startEmpty, svn.OptString(lockToken), depth.String())
}

func (r *reporter) FinishReport() error {
	if err := r.c.start("finish-report"); err != nil {
		r.ed.Abort()
		return err
	}
	return r.c.receive(r.ed, false)
}

// AbortReport gets no answer: the server drops the report.
func (r *reporter) AbortReport() error {
	err := r.c.conn.WriteCommand("abort-report")
	if aerr := r.ed.Abort(); err == nil {
		err = aerr
	}
	return err
}
