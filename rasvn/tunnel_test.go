package rasvn

import (
	"net/url"
	"testing"

	"github.com/go-playground/assert/v2"

	svn "github.com/cespedes/svnra"
)

func TestTunnelCommand(t *testing.T) {
	parse := func(s string) *url.URL {
		u, err := url.Parse(s)
		if err != nil {
			t.Fatal(err)
		}
		return u
	}
	tunnels := map[string]string{
		"rsh":   "rsh -l 'the user'",
		"local": "$SVN_LOCAL_TUNNEL sh -c",
	}

	t.Setenv("SVN_SSH", "")
	args, err := tunnelCommand(parse("svn+ssh://host/repos"), nil)
	assert.Equal(t, err, nil)
	assert.Equal(t, args, []string{"ssh", "-q", "host", "svnserve", "-t"})

	t.Setenv("SVN_SSH", "myssh -p 2222")
	args, err = tunnelCommand(parse("svn+ssh://sally@host:22/repos"), nil)
	assert.Equal(t, err, nil)
	assert.Equal(t, args, []string{"myssh", "-p", "2222", "sally@host", "svnserve", "-t"})

	args, err = tunnelCommand(parse("svn+rsh://host/repos"), tunnels)
	assert.Equal(t, err, nil)
	assert.Equal(t, args, []string{"rsh", "-l", "the user", "host", "svnserve", "-t"})

	t.Setenv("SVN_LOCAL_TUNNEL", "")
	args, err = tunnelCommand(parse("svn+local://host/repos"), tunnels)
	assert.Equal(t, err, nil)
	assert.Equal(t, args, []string{"sh", "-c", "host", "svnserve", "-t"})

	args, err = tunnelCommand(parse("file:///var/repos"), nil)
	assert.Equal(t, err, nil)
	assert.Equal(t, args, []string{"svnserve", "-t"})

	_, err = tunnelCommand(parse("svn+nope://host/repos"), tunnels)
	assert.Equal(t, svn.ErrorCode(err), svn.ErrCodeRAIllegalURL)
	_, err = tunnelCommand(parse("http://host/repos"), tunnels)
	assert.Equal(t, svn.ErrorCode(err), svn.ErrCodeRAIllegalURL)
}

func TestCramResponse(t *testing.T) {
	// RFC 2195, section 2.
	got := cramResponse("tanstaaftanstaaf", []byte("<1896.697170952@postoffice.reston.mci.net>"))
	assert.Equal(t, got, "b913a602c7eda7a495b4e6e7334d3890")
}
