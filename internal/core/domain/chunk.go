package domain

import (
	"encoding/json"
	"strconv"
	"strings"
)

// MetaKind discriminates the shapes a metadata value can take. Chunk
// metadata is schema-free, so values are a closed sum instead of interface{}.
type MetaKind int

const (
	MetaString MetaKind = iota
	MetaNumber
	MetaBool
	MetaList
	MetaMap
)

type MetaValue struct {
	Kind MetaKind
	Str  string
	Num  float64
	Bool bool
	List []MetaValue
	Map  map[string]MetaValue
}

func StringValue(s string) MetaValue  { return MetaValue{Kind: MetaString, Str: s} }
func NumberValue(n float64) MetaValue { return MetaValue{Kind: MetaNumber, Num: n} }
func BoolValue(b bool) MetaValue      { return MetaValue{Kind: MetaBool, Bool: b} }

func ListValue(items ...MetaValue) MetaValue {
	return MetaValue{Kind: MetaList, List: items}
}

func MapValue(m map[string]MetaValue) MetaValue {
	return MetaValue{Kind: MetaMap, Map: m}
}

func (v MetaValue) TypeName() string {
	switch v.Kind {
	case MetaNumber:
		return "number"
	case MetaBool:
		return "bool"
	case MetaList:
		return "list"
	case MetaMap:
		return "map"
	default:
		return "string"
	}
}

// IsEmpty reports whether the value counts as absent for schema coverage:
// empty string, zero, false, and empty collections are all absent.
func (v MetaValue) IsEmpty() bool {
	switch v.Kind {
	case MetaNumber:
		return v.Num == 0
	case MetaBool:
		return !v.Bool
	case MetaList:
		return len(v.List) == 0
	case MetaMap:
		return len(v.Map) == 0
	default:
		return v.Str == ""
	}
}

// Text renders the value as a flat string for matching and canonical keys.
// Lists join their elements with ","; nested maps render empty.
func (v MetaValue) Text() string {
	switch v.Kind {
	case MetaNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case MetaBool:
		return strconv.FormatBool(v.Bool)
	case MetaList:
		parts := make([]string, 0, len(v.List))
		for _, item := range v.List {
			parts = append(parts, item.Text())
		}
		return strings.Join(parts, ",")
	case MetaMap:
		return ""
	default:
		return v.Str
	}
}

func (v MetaValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case MetaNumber:
		return json.Marshal(v.Num)
	case MetaBool:
		return json.Marshal(v.Bool)
	case MetaList:
		if v.List == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.List)
	case MetaMap:
		if v.Map == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.Map)
	default:
		return json.Marshal(v.Str)
	}
}

func (v *MetaValue) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = MetaFromAny(raw)
	return nil
}

// MetaFromAny converts a decoded JSON value into the typed container.
// Unknown shapes (including null) collapse to an empty string value.
func MetaFromAny(raw any) MetaValue {
	switch t := raw.(type) {
	case string:
		return StringValue(t)
	case float64:
		return NumberValue(t)
	case bool:
		return BoolValue(t)
	case []any:
		items := make([]MetaValue, 0, len(t))
		for _, item := range t {
			items = append(items, MetaFromAny(item))
		}
		return MetaValue{Kind: MetaList, List: items}
	case map[string]any:
		m := make(map[string]MetaValue, len(t))
		for k, item := range t {
			m[k] = MetaFromAny(item)
		}
		return MetaValue{Kind: MetaMap, Map: m}
	default:
		return MetaValue{}
	}
}

// CandidateChunk is one retrieved unit of text. Instances live for a single
// request; only ChunkStats outlives them.
type CandidateChunk struct {
	ChunkID   string               `json:"chunk_id"`
	DocID     string               `json:"doc_id"`
	Section   string               `json:"section,omitempty"`
	Body      string               `json:"body"`
	Metadata  map[string]MetaValue `json:"metadata,omitempty"`
	BaseScore float64              `json:"score,omitempty"`
}

// MetaText returns the flattened text of a metadata field, or "" when the
// field is absent.
func (c CandidateChunk) MetaText(field string) string {
	v, ok := c.Metadata[field]
	if !ok {
		return ""
	}
	return v.Text()
}
