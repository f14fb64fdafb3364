package redisd

import (
	"time"

	"github.com/mvandenbrink/respkv/app/redisd/streams"
)

// typeName is the string TYPE returns for each kind of value, per spec.md
// §4.6 TYPE.
type typeName string

const (
	typeNone   typeName = "none"
	typeString typeName = "string"
	typeList   typeName = "list"
	typeStream typeName = "stream"
)

// value is the closed sum of things a key can hold. A single key is always
// exactly one of these, never a mix; commands that expect one kind and find
// another fail with a wrong-type error (spec.md §7 "Type errors").
type value interface {
	typeName() typeName
}

type stringValue struct {
	data   []byte
	expiry time.Time // zero means no TTL
}

func (stringValue) typeName() typeName { return typeString }

type listValue struct {
	items [][]byte
}

func (*listValue) typeName() typeName { return typeList }

type streamValue struct {
	s *streams.Stream
}

func (*streamValue) typeName() typeName { return typeStream }
