package editor

import (
	"bytes"
	"fmt"
	"io"

	svn "github.com/cespedes/svnra"
	"github.com/cespedes/svnra/delta"
)

// Recorder is an Editor that logs the calls it receives and rebuilds the
// file texts and properties they describe.
type Recorder struct {
	// Base returns the base text of an opened file; nil means empty texts.
	Base func(path string) []byte
	// Out, if not nil, receives every log line as it is recorded.
	Out io.Writer

	Log     []string
	Files   map[string][]byte
	Props   map[string]svn.Props
	Deleted []string
	Target  svn.Revnum
	Closed  bool
	Aborted bool
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		Files:  make(map[string][]byte),
		Props:  make(map[string]svn.Props),
		Target: svn.InvalidRevnum,
	}
}

func (r *Recorder) logf(format string, a ...any) {
	line := fmt.Sprintf(format, a...)
	r.Log = append(r.Log, line)
	if r.Out != nil {
		fmt.Fprintln(r.Out, line)
	}
}

func (r *Recorder) setProp(path, name string, value []byte) {
	if r.Props[path] == nil {
		r.Props[path] = make(svn.Props)
	}
	if value == nil {
		delete(r.Props[path], name)
		return
	}
	r.Props[path][name] = bytes.Clone(value)
}

func displayPath(p string) string {
	if p == "" {
		return "/"
	}
	return p
}

func (r *Recorder) SetTargetRevision(rev svn.Revnum) error {
	r.Target = rev
	r.logf("set_target_revision %v", rev)
	return nil
}

func (r *Recorder) OpenRoot(base svn.Revnum) (DirEditor, error) {
	r.logf("open_root %v", base)
	return &recordedDir{r: r}, nil
}

func (r *Recorder) Close() error {
	r.Closed = true
	r.logf("close_edit")
	return nil
}

func (r *Recorder) Abort() error {
	r.Aborted = true
	r.logf("abort_edit")
	return nil
}

type recordedDir struct {
	r    *Recorder
	path string
}

func (d *recordedDir) DeleteEntry(path string, rev svn.Revnum) error {
	d.r.Deleted = append(d.r.Deleted, path)
	delete(d.r.Files, path)
	d.r.logf("delete_entry %s %v", path, rev)
	return nil
}

func (d *recordedDir) AddDirectory(path, copyFromPath string, copyFromRev svn.Revnum) (DirEditor, error) {
	if copyFromPath != "" {
		d.r.logf("add_directory %s (from %s@%v)", path, copyFromPath, copyFromRev)
	} else {
		d.r.logf("add_directory %s", path)
	}
	return &recordedDir{r: d.r, path: path}, nil
}

func (d *recordedDir) OpenDirectory(path string, base svn.Revnum) (DirEditor, error) {
	d.r.logf("open_directory %s %v", path, base)
	return &recordedDir{r: d.r, path: path}, nil
}

func (d *recordedDir) ChangeProp(name string, value []byte) error {
	d.r.setProp(d.path, name, value)
	if value == nil {
		d.r.logf("change_dir_prop %s %s (deleted)", displayPath(d.path), name)
	} else {
		d.r.logf("change_dir_prop %s %s=%s", displayPath(d.path), name, value)
	}
	return nil
}

func (d *recordedDir) AbsentDirectory(path string) error {
	d.r.logf("absent_directory %s", path)
	return nil
}

func (d *recordedDir) AddFile(path, copyFromPath string, copyFromRev svn.Revnum) (FileEditor, error) {
	if copyFromPath != "" {
		d.r.logf("add_file %s (from %s@%v)", path, copyFromPath, copyFromRev)
	} else {
		d.r.logf("add_file %s", path)
	}
	return &recordedFile{r: d.r, path: path}, nil
}

func (d *recordedDir) OpenFile(path string, base svn.Revnum) (FileEditor, error) {
	d.r.logf("open_file %s %v", path, base)
	f := &recordedFile{r: d.r, path: path}
	if d.r.Base != nil {
		f.base = d.r.Base(path)
	}
	return f, nil
}

func (d *recordedDir) AbsentFile(path string) error {
	d.r.logf("absent_file %s", path)
	return nil
}

func (d *recordedDir) Close() error {
	d.r.logf("close_directory %s", displayPath(d.path))
	return nil
}

type recordedFile struct {
	r       *Recorder
	path    string
	base    []byte
	text    bytes.Buffer
	applier *delta.Applier
}

func (f *recordedFile) ApplyTextDelta(baseChecksum string) (delta.WindowHandler, error) {
	if baseChecksum != "" && f.base != nil && delta.Checksum(f.base) != baseChecksum {
		return nil, svn.Errorf(svn.ErrCodeChecksumMismatch, "base checksum mismatch for %q", f.path)
	}
	f.r.logf("apply_textdelta %s", f.path)
	f.applier = delta.NewApplier(f.base, &f.text)
	return f.applier.Handle, nil
}

func (f *recordedFile) ChangeProp(name string, value []byte) error {
	f.r.setProp(f.path, name, value)
	if value == nil {
		f.r.logf("change_file_prop %s %s (deleted)", f.path, name)
	} else {
		f.r.logf("change_file_prop %s %s=%s", f.path, name, value)
	}
	return nil
}

func (f *recordedFile) Close(textChecksum string) error {
	if f.applier != nil {
		if err := f.applier.Verify(textChecksum); err != nil {
			return err
		}
		f.r.Files[f.path] = bytes.Clone(f.text.Bytes())
	} else if _, ok := f.r.Files[f.path]; !ok {
		f.r.Files[f.path] = f.base
	}
	f.r.logf("close_file %s", f.path)
	return nil
}
