package svn

import (
	"fmt"
	"io"
	"sync"

	"github.com/golang/glog"
)

const SvnVersion = 2

// Command is a request sent over a Conn: ( name ( params... ) ).
type Command struct {
	Name   string
	Params []Item
}

// Args unmarshals the command parameters into v, usually a pointer to a struct.
func (c Command) Args(v any) error {
	if err := Unmarshal(List(c.Params...), v); err != nil {
		return Wrap(err, ErrCodeRASvnMalformedData, "malformed %q parameters", c.Name)
	}
	return nil
}

// Conn is a representation of a connection between a client and a server.
type Conn struct {
	r  io.Reader
	w  io.Writer
	i  *Itemizer
	mu sync.Mutex
	// Name prefixes trace messages.
	Name string
}

// NewConn returns a Conn reading from r and writing to w.
func NewConn(r io.Reader, w io.Writer) *Conn {
	return &Conn{
		r: r,
		w: w,
	}
}

// Write converts "what" into an Item,
// if needed, and then sends it to the other end of the connection.
func (c *Conn) Write(what any) error {
	item, err := Marshal(what)
	if err != nil {
		return fmt.Errorf("svn: marshal: %w", err)
	}
	return c.WriteItem(item)
}

// WriteItem sends item to the other end of the connection.
func (c *Conn) WriteItem(item Item) error {
	if glog.V(3) {
		glog.Infof("%s-> %s", c.Name, trace(item))
	}
	buf := item.appendTo(nil)
	buf = append(buf, ' ')
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.w.Write(buf); err != nil {
		return Wrap(err, ErrCodeRASvnIOError, "write to connection")
	}
	return nil
}

// WriteCommand sends ( name ( params... ) ).
func (c *Conn) WriteCommand(name string, params ...any) error {
	if params == nil {
		params = []any{}
	}
	return c.Write([]any{Word(name), params})
}

// WriteSuccess sends a successful command response.
func (c *Conn) WriteSuccess(params ...any) error {
	if params == nil {
		params = []any{}
	}
	return c.Write([]any{Word("success"), params})
}

// WriteFailure sends a failure response carrying the whole error chain.
func (c *Conn) WriteFailure(err error) error {
	var links []any
	for _, e := range Chain(err) {
		links = append(links, []any{
			e.AprErr,
			[]byte(e.Message),
			[]byte(e.File),
			e.Line,
		})
	}
	return c.Write([]any{Word("failure"), links})
}

// WriteResponse sends a success response with params if err is nil,
// or a failure response otherwise.
func (c *Conn) WriteResponse(err error, params ...any) error {
	if err != nil {
		return c.WriteFailure(err)
	}
	return c.WriteSuccess(params...)
}

// ReadItem reads the next Item from the connection.
func (c *Conn) ReadItem() (Item, error) {
	if c.i == nil {
		c.i = NewItemizer(c.r)
	}
	item, err := c.i.Item()
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return Item{}, Wrap(err, ErrCodeRASvnConnClosed, "connection closed unexpectedly")
		}
		return Item{}, Wrap(err, ErrCodeRASvnMalformedData, "reading item")
	}
	if glog.V(3) {
		glog.Infof("%s<- %s", c.Name, trace(item))
	}
	return item, nil
}

// Read reads an Item from the connection,
// and stores it in "where", converting its type if needed.
func (c *Conn) Read(where any) error {
	item, err := c.ReadItem()
	if err != nil {
		return err
	}
	return Unmarshal(item, where)
}

// ReadResponse reads a command response.  On success the parameters are
// stored in where (which may be nil); a failure is returned as an *Error chain.
func (c *Conn) ReadResponse(where any) error {
	item, err := c.ReadItem()
	if err != nil {
		return err
	}
	params, err := ParseResponse(item)
	if err != nil {
		return err
	}
	if where == nil {
		return nil
	}
	if err := Unmarshal(List(params...), where); err != nil {
		return Wrap(err, ErrCodeRASvnMalformedData, "malformed response")
	}
	return nil
}

// ReadCommand reads a ( name ( params... ) ) command.
func (c *Conn) ReadCommand() (Command, error) {
	item, err := c.ReadItem()
	if err != nil {
		return Command{}, err
	}
	return ParseCommand(item)
}

// ParseCommand splits a command item into its name and parameters.
func ParseCommand(item Item) (Command, error) {
	if item.Type != ListType || len(item.List) != 2 ||
		item.List[0].Type != WordType || item.List[1].Type != ListType {
		return Command{}, Errorf(ErrCodeRASvnMalformedData, "malformed command %s", trace(item))
	}
	return Command{
		Name:   item.List[0].Word,
		Params: item.List[1].List,
	}, nil
}

// ParseResponse expects an item following the prototype of "command response"
// and returns the list of params if the type is "success".
// A "failure" response is returned as an *Error chain.
func ParseResponse(i Item) ([]Item, error) {
	cmd, err := ParseCommand(i)
	if err != nil {
		return nil, err
	}
	switch cmd.Name {
	case "success":
		return cmd.Params, nil
	case "failure":
		return nil, ParseFailure(cmd.Params)
	}
	return nil, Errorf(ErrCodeRASvnMalformedData, "unknown response status %q", cmd.Name)
}

// ParseFailure converts the parameters of a failure response into an error.
func ParseFailure(params []Item) error {
	var links []Error
	if err := Unmarshal(List(params...), &links); err != nil {
		return Wrap(err, ErrCodeRASvnMalformedData, "malformed failure response")
	}
	if len(links) == 0 {
		return Errorf(ErrCodeRASvnMalformedData, "empty error list in failure response")
	}
	var err error
	for i := len(links) - 1; i >= 0; i-- {
		e := links[i]
		e.Cause = err
		err = &e
	}
	return err
}

// Close closes the connection.
// It calls r.Close() and w.Close() if they are available.
func (c *Conn) Close() error {
	var first error
	if cr, ok := c.r.(io.Closer); ok {
		first = cr.Close()
	}
	if cw, ok := c.w.(io.Closer); ok && any(c.w) != any(c.r) {
		if err := cw.Close(); err != nil && first == nil {
			first = err
		}
	}
	c.i = nil
	return first
}
