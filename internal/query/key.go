package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Params is the parameter mapping of a query key. Values must be
// JSON-encodable; equality is decided on their JSON encoding.
type Params map[string]any

// Key identifies a cache entry: a collection name plus parameters.
// Two keys are equal when the collection matches and the parameters are
// deeply equal.
type Key struct {
	Collection string
	Params     Params
}

// NewKey builds a key. A nil params mapping is the collection-level key.
func NewKey(collection string, params Params) Key {
	return Key{Collection: collection, Params: params}
}

// Hash returns the canonical form of the key used for storage.
func (k Key) Hash() string {
	return strconv.Quote(k.Collection) + "," + canonical(k.Params)
}

// String renders the key as ["collection",{params}] for logs.
func (k Key) String() string {
	if len(k.Params) == 0 {
		return "[" + strconv.Quote(k.Collection) + "]"
	}
	return "[" + k.Hash() + "]"
}

// Equal reports whether k and other address the same entry.
func (k Key) Equal(other Key) bool {
	return k.Hash() == other.Hash()
}

// Selector matches keys for invalidation and cancellation.
//
// With Exact set only an equal key matches. Otherwise a key matches when its
// collection is the same and every selector parameter is present in the key
// with an equal value; a selector without parameters matches the whole
// collection.
type Selector struct {
	Key   Key
	Exact bool
}

// Exact selects exactly one key.
func Exact(key Key) Selector {
	return Selector{Key: key, Exact: true}
}

// Prefix selects every key of collection whose parameters include params.
func Prefix(collection string, params Params) Selector {
	return Selector{Key: Key{Collection: collection, Params: params}}
}

// Match reports whether key is selected.
func (s Selector) Match(key Key) bool {
	if s.Key.Collection != key.Collection {
		return false
	}
	if s.Exact {
		return s.Key.Equal(key)
	}
	for name, want := range s.Key.Params {
		got, ok := key.Params[name]
		if !ok {
			return false
		}
		if canonical(want) != canonical(got) {
			return false
		}
	}
	return true
}

func (s Selector) String() string {
	if s.Exact {
		return "exact " + s.Key.String()
	}
	return "prefix " + s.Key.String()
}

// canonical encodes v deterministically; encoding/json sorts map keys.
func canonical(v any) string {
	if m, ok := v.(Params); ok && len(m) == 0 {
		return "{}"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}
	return string(bytes.TrimSpace(data))
}
