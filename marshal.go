package svn

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"
)

var (
	itemType = reflect.TypeOf(Item{})
	timeType = reflect.TypeOf(time.Time{})
)

// Marshal converts v into an Item.
//
// Marshal traverses the value v recursively.
//
// Floating point and non-negative integer values encode as numbers.
// Negative integers cannot be represented in the protocol and make
// Marshal fail.
//
// Boolean values encode as the words "true" and "false".
//
// String values encode as words, unless they are struct fields tagged
// with `svn:",string"`.
//
// Array, slice and struct values encode as lists, except that []byte
// values encode as strings.  Maps with string keys encode as lists of
// ( key value ) pairs, sorted by key.
//
// time.Time values encode as strings in the Subversion date format.
//
// Item values are copied unchanged.  Nil pointers and interfaces produce
// no item at all, so they are omitted from the enclosing list.
func Marshal(v any) (Item, error) {
	return marshal(reflect.ValueOf(v), false)
}

func marshal(v reflect.Value, asString bool) (Item, error) {
	if !v.IsValid() {
		return Item{}, nil
	}
	switch v.Type() {
	case itemType:
		return v.Interface().(Item), nil
	case timeType:
		return Item{
			Type:   StringType,
			Octets: []byte(FormatDate(v.Interface().(time.Time))),
		}, nil
	}
	switch v.Kind() {
	case reflect.Bool:
		if v.Bool() {
			return Word("true"), nil
		}
		return Word("false"), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if v.Int() < 0 {
			return Item{}, fmt.Errorf("cannot marshal negative number %d", v.Int())
		}
		return Item{
			Type:   NumberType,
			Number: uint64(v.Int()),
		}, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Item{
			Type:   NumberType,
			Number: v.Uint(),
		}, nil
	case reflect.Float32, reflect.Float64:
		if v.Float() < 0 {
			return Item{}, fmt.Errorf("cannot marshal negative number %g", v.Float())
		}
		return Item{
			Type:   NumberType,
			Number: uint64(v.Float()),
		}, nil
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return Item{
				Type:   StringType,
				Octets: v.Bytes(),
			}, nil
		}
		fallthrough
	case reflect.Array:
		item := Item{
			Type: ListType,
		}
		for i := range v.Len() {
			it, err := marshal(v.Index(i), false)
			if err != nil {
				return Item{}, err
			}
			if it.Type != InvalidType {
				item.List = append(item.List, it)
			}
		}
		return item, nil
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return Item{}, fmt.Errorf("cannot marshal map with %q keys", v.Type().Key().Kind())
		}
		keys := v.MapKeys()
		slices.SortFunc(keys, func(a, b reflect.Value) int {
			return strings.Compare(a.String(), b.String())
		})
		item := Item{
			Type: ListType,
		}
		for _, k := range keys {
			val, err := marshal(v.MapIndex(k), true)
			if err != nil {
				return Item{}, err
			}
			item.List = append(item.List, List(Item{Type: StringType, Octets: []byte(k.String())}, val))
		}
		return item, nil
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			return Item{}, nil
		}
		return marshal(v.Elem(), asString)
	case reflect.String:
		if asString {
			return Item{
				Type:   StringType,
				Octets: []byte(v.String()),
			}, nil
		}
		return Word(v.String()), nil
	case reflect.Struct:
		item := Item{
			Type: ListType,
		}
		for i := range v.NumField() {
			field := v.Type().Field(i)
			// do not marshal unexported fields:
			if !field.IsExported() {
				continue
			}
			skip, str := fieldTag(field)
			if skip {
				continue
			}
			it, err := marshal(v.Field(i), str)
			if err != nil {
				return Item{}, fmt.Errorf("field %s: %w", field.Name, err)
			}
			if it.Type != InvalidType {
				item.List = append(item.List, it)
			}
		}
		return item, nil
	default:
		return Item{}, fmt.Errorf("cannot marshal kind %q", v.Kind())
	}
}

func fieldTag(f reflect.StructField) (skip, asString bool) {
	tag := f.Tag.Get("svn")
	if tag == "-" {
		return true, false
	}
	_, opts, _ := strings.Cut(tag, ",")
	return false, opts == "string"
}

// Unmarshal parses an Item and copies it to the value pointed to by v.
// If v is nil or not a pointer, Unmarshal returns an error.
//
// Unmarshal uses the inverse of the encodings that Marshal uses, allocating
// slices and pointers as necessary, with the following additional
// rules:
//
// To unmarshal an Item into a pointer, Unmarshal unmarshals the Item
// into the value pointed at by the pointer.
// If the pointer is nil, Unmarshal allocates a new value for it to point to.
//
// To unmarshal a list Item into a struct, Unmarshal matches the values
// in the same order as they are declared in the struct.  If there are extra
// fields in the struct, they are left untouched; this is how optional
// trailing parameters are read.
//
// To unmarshal an Item into an interface value, Unmarshal stores one of these
// in the interface value:
//
//   - uint64, for numbers
//   - string, for words or strings
//   - []any, for lists
//
// To unmarshal a list into a slice, Unmarshal resets the slice length
// to zero and then appends each element to the slice.  Tuples of the form
// ( ?value ) are usually read into a slice, which ends up with zero or
// one elements.
func Unmarshal(item Item, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("Unmarshal: invalid kind %q", rv.Kind())
	}
	rv = rv.Elem()
	return unmarshal(item, rv)
}

func unmarshal(item Item, v reflect.Value) error {
	switch v.Type() {
	case itemType:
		v.Set(reflect.ValueOf(item))
		return nil
	case timeType:
		if item.Type != StringType {
			return fmt.Errorf("cannot unmarshal %s into a date", item)
		}
		t, err := ParseDate(string(item.Octets))
		if err != nil {
			return err
		}
		v.Set(reflect.ValueOf(t))
		return nil
	}
	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		return unmarshal(item, v.Elem())
	case reflect.Interface:
		if v.NumMethod() != 0 {
			return fmt.Errorf("cannot unmarshal into non-empty interface %s", v.Type())
		}
		val, err := itemValue(item)
		if err != nil {
			return err
		}
		v.Set(reflect.ValueOf(val))
		return nil
	}

	switch item.Type {
	case WordType:
		switch v.Kind() {
		case reflect.String:
			v.SetString(item.Word)
			return nil
		case reflect.Bool:
			switch item.Word {
			case "true":
				v.SetBool(true)
				return nil
			case "false":
				v.SetBool(false)
				return nil
			}
			return fmt.Errorf("cannot unmarshal word %q into a bool", item.Word)
		}
		return fmt.Errorf("cannot unmarshal a Word into kind %q", v.Kind())
	case StringType:
		switch {
		case v.Kind() == reflect.String:
			v.SetString(string(item.Octets))
			return nil
		case v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8:
			v.SetBytes(slices.Clone(item.Octets))
			return nil
		}
		return fmt.Errorf("cannot unmarshal a String into kind %q", v.Kind())
	case NumberType:
		switch v.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			n := int64(item.Number)
			if n < 0 || v.OverflowInt(n) {
				return fmt.Errorf("number %d overflows %s", item.Number, v.Type())
			}
			v.SetInt(n)
			return nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			if v.OverflowUint(item.Number) {
				return fmt.Errorf("number %d overflows %s", item.Number, v.Type())
			}
			v.SetUint(item.Number)
			return nil
		case reflect.Float32, reflect.Float64:
			v.SetFloat(float64(item.Number))
			return nil
		}
		return fmt.Errorf("cannot unmarshal a Number into kind %q", v.Kind())
	case ListType:
		switch v.Kind() {
		case reflect.Struct:
			n := 0
			for i := 0; i < v.NumField() && n < len(item.List); i++ {
				field := v.Type().Field(i)
				if skip, _ := fieldTag(field); skip {
					continue
				}
				// unmarshaling to unexported fields is forbidden:
				if !field.IsExported() {
					return fmt.Errorf("cannot unmarshal into unexported field %s", field.Name)
				}
				err := unmarshal(item.List[n], v.Field(i))
				if err != nil {
					return fmt.Errorf("field %s: %w", field.Name, err)
				}
				n++
			}
			return nil
		case reflect.Slice:
			s := reflect.MakeSlice(v.Type(), len(item.List), len(item.List))
			for i := range item.List {
				err := unmarshal(item.List[i], s.Index(i))
				if err != nil {
					return err
				}
			}
			v.Set(s)
			return nil
		case reflect.Array:
			if len(item.List) > v.Len() {
				return fmt.Errorf("list of %d items does not fit in %s", len(item.List), v.Type())
			}
			for i := range item.List {
				err := unmarshal(item.List[i], v.Index(i))
				if err != nil {
					return err
				}
			}
			return nil
		case reflect.Map:
			if v.Type().Key().Kind() != reflect.String {
				return fmt.Errorf("cannot unmarshal into map with %q keys", v.Type().Key().Kind())
			}
			m := reflect.MakeMapWithSize(v.Type(), len(item.List))
			for _, pair := range item.List {
				if pair.Type != ListType || len(pair.List) != 2 {
					return fmt.Errorf("malformed map entry %s", pair)
				}
				key := reflect.New(v.Type().Key()).Elem()
				if err := unmarshal(pair.List[0], key); err != nil {
					return err
				}
				val := reflect.New(v.Type().Elem()).Elem()
				if err := unmarshal(pair.List[1], val); err != nil {
					return err
				}
				m.SetMapIndex(key, val)
			}
			v.Set(m)
			return nil
		default:
			return fmt.Errorf("cannot unmarshal a List into kind %q", v.Kind())
		}
	}
	return fmt.Errorf("cannot unmarshal invalid item")
}

func itemValue(item Item) (any, error) {
	switch item.Type {
	case WordType:
		return item.Word, nil
	case NumberType:
		return item.Number, nil
	case StringType:
		return string(item.Octets), nil
	case ListType:
		list := make([]any, 0, len(item.List))
		for _, elem := range item.List {
			val, err := itemValue(elem)
			if err != nil {
				return nil, err
			}
			list = append(list, val)
		}
		return list, nil
	}
	return nil, fmt.Errorf("cannot unmarshal invalid item")
}
