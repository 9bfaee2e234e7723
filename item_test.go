package svn

import (
	"io"
	"strings"
	"testing"
)

type itemTest struct {
	// A short description of the test case.
	desc string
	// The input to parse.
	input string
	// The string representation of the expected item, or "" if the input
	// is malformed.
	golden string
}

var itemTests = []itemTest{
	{"number", "42 ", "42"},
	{"word", "sesame ", "sesame"},
	{"word with dashes", "accepts-svndiff2 ", "accepts-svndiff2"},
	{"string", "8:elephant ", "8:elephant"},
	{"empty list", "( ) ", "( )"},
	{
		"svnserve greeting",
		"( \t\r success ( 2 2 ( ) ( edit-pipeline svndiff1 accepts-svndiff2 absent-entries commit-revprops depth log-revprops atomic-revprops partial-replay inherited-props ephemeral-txnprops file-revs-reverse list ) ) )  ",
		"( success ( 2 2 ( ) ( edit-pipeline svndiff1 accepts-svndiff2 absent-entries commit-revprops depth log-revprops atomic-revprops partial-replay inherited-props ephemeral-txnprops file-revs-reverse list ) ) )",
	},
	{
		"failure",
		"( failure ( ( 160013 23:File not found: 'trunk' 0: 0 ) ) ) ",
		"( failure ( ( 160013 23:File not found: 'trunk' 0: 0 ) ) )",
	},
	{
		"different spaces",
		"(   word \t 22\n6:string ( sublist ) \r \v)\f",
		"( word 22 6:string ( sublist ) )",
	},
	{"empty", "", ""},
	{"spaces", " \t \r \n ", ""},
	{"no space after", "42", ""},
	{"negative number", "-42 ", ""},
	{"number and letters", "42foo ", ""},
	{"letters and symbols", "foo/ ", ""},
	{"short string", "4:foo", ""},
	{"long string", "2:foo ", ""},
	{"only right paren", ") ", ""},
	{"word starting with dash", "-foo ", ""},
	{"huge number", "99999999999999999999999 ", ""},
	{"unbalanced parens", "( foo ( bar ) ", ""},
	{"too deep", strings.Repeat("( ", MaxListDepth+1) + strings.Repeat(") ", MaxListDepth+1), ""},
}

func TestItemizer(t *testing.T) {
	for _, tt := range itemTests {
		t.Run(tt.desc, func(t *testing.T) {
			z := NewItemizer(strings.NewReader(tt.input))
			item, err := z.Item()
			if tt.golden == "" {
				if err == nil {
					t.Errorf("%s: expected error got %q", tt.desc, item.String())
				}
				return
			}
			if err != nil {
				t.Errorf("%s: want %q got error %v", tt.desc, tt.golden, err)
				return
			}
			if actual := item.String(); tt.golden != actual {
				t.Errorf("%s: want %q got %q", tt.desc, tt.golden, actual)
				return
			}
			if item, err = z.Item(); err != io.EOF {
				t.Errorf("%s: want EOF got %q, %v", tt.desc, item.String(), err)
			}
		})
	}
}

func TestItemizerErrors(t *testing.T) {
	tests := []struct {
		input string
		err   error
		code  int
	}{
		{"", io.EOF, 0},
		{"( foo ", io.ErrUnexpectedEOF, 0},
		{") ", nil, ErrCodeRASvnMalformedData},
		{strings.Repeat("( ", MaxListDepth+1), nil, ErrCodeRASvnMalformedData},
	}
	for _, tt := range tests {
		_, err := NewItemizer(strings.NewReader(tt.input)).Item()
		if tt.err != nil && err != tt.err {
			t.Errorf("%q: want %v got %v", tt.input, tt.err, err)
		}
		if tt.code != 0 && ErrorCode(err) != tt.code {
			t.Errorf("%q: want code %d got %v", tt.input, tt.code, err)
		}
	}
	deep := strings.Repeat("( ", MaxListDepth) + strings.Repeat(") ", MaxListDepth)
	if _, err := NewItemizer(strings.NewReader(deep)).Item(); err != nil {
		t.Errorf("%d nested lists: %v", MaxListDepth, err)
	}
}
