package svn

import (
	"bytes"
	"io"
	"strconv"
)

// An ItemType is the type of an Item.
type ItemType int

const (
	InvalidType ItemType = iota
	WordType
	NumberType
	StringType
	ListType
)

// Item represents a syntactic element in the SVN protocol.
type Item struct {
	// Type specifies the type of item, and which of the next fields is used
	// to represent it.
	Type   ItemType
	Word   string
	Number uint64
	Octets []byte
	List   []Item
}

// Word returns a word Item.
func Word(w string) Item {
	return Item{Type: WordType, Word: w}
}

// List returns a list Item holding items.
func List(items ...Item) Item {
	return Item{Type: ListType, List: items}
}

// String returns a string representation of the Item,
// as it would be sent on the wire.
func (i Item) String() string {
	return string(i.appendTo(nil))
}

func (i Item) appendTo(b []byte) []byte {
	switch i.Type {
	case WordType:
		b = append(b, i.Word...)
	case NumberType:
		b = strconv.AppendUint(b, i.Number, 10)
	case StringType:
		b = strconv.AppendInt(b, int64(len(i.Octets)), 10)
		b = append(b, ':')
		b = append(b, i.Octets...)
	case ListType:
		b = append(b, "( "...)
		for _, elem := range i.List {
			b = elem.appendTo(b)
			b = append(b, ' ')
		}
		b = append(b, ')')
	}
	return b
}

// IsWord reports whether i is the word w.
func (i Item) IsWord(w string) bool {
	return i.Type == WordType && i.Word == w
}

// MaxListDepth limits how deeply lists may nest in one item.
const MaxListDepth = 64

// An Itemizer returns a stream of SVN Items.
type Itemizer struct {
	t *Tokenizer
}

// NewItemizer returns a new SVN Itemizer for the given Reader.
func NewItemizer(r io.Reader) *Itemizer {
	return &Itemizer{t: NewTokenizer(r)}
}

// Item returns the next Item from the stream.  At the end of the stream
// it returns io.EOF; a stream ending inside an item is io.ErrUnexpectedEOF.
func (i *Itemizer) Item() (Item, error) {
	// stack holds the lists still open, innermost last.
	var stack []*Item
	for {
		if !i.t.Scan() {
			err := i.t.Err()
			if err == io.EOF && len(stack) > 0 {
				err = io.ErrUnexpectedEOF
			}
			return Item{}, err
		}
		var item Item
		switch tok := i.t.Token(); tok.Type {
		case WordToken:
			item = Word(tok.Word)
		case NumberToken:
			item = Item{Type: NumberType, Number: tok.Number}
		case StringToken:
			item = Item{Type: StringType, Octets: tok.Octets}
		case LeftParenToken:
			if len(stack) == MaxListDepth {
				return Item{}, Errorf(ErrCodeRASvnMalformedData, "lists nested deeper than %d", MaxListDepth)
			}
			stack = append(stack, &Item{Type: ListType})
			continue
		case RightParenToken:
			if len(stack) == 0 {
				return Item{}, Errorf(ErrCodeRASvnMalformedData, "unexpected \")\"")
			}
			item = *stack[len(stack)-1]
			stack = stack[:len(stack)-1]
		}
		if len(stack) == 0 {
			return item, nil
		}
		top := stack[len(stack)-1]
		top.List = append(top.List, item)
	}
}

// trace renders an item for debug logs, eliding long strings.
func trace(i Item) string {
	b := i.appendTo(nil)
	if len(b) > 512 {
		b = append(b[:512:512], "..."...)
	}
	return string(bytes.ToValidUTF8(b, []byte("?")))
}
