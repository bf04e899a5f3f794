package query

import (
	"encoding/json"

	"chimaera/osc"
)

type description struct {
	Path        string           `json:"path"`
	Type        string           `json:"type"`
	Description string           `json:"description,omitempty"`
	Count       int              `json:"count,omitempty"`
	Children    []string         `json:"items,omitempty"`
	Args        []argDescription `json:"arguments,omitempty"`
}

type argDescription struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Read        bool   `json:"read"`
	Write       bool   `json:"write"`
	Range       []any  `json:"range,omitempty"`
	Values      []any  `json:"values,omitempty"`
}

// Describe serializes item as seen at path for an introspection client:
// its kind, the child segments of nodes and arrays and, for methods, every
// argument with type, access flags and either a [min, max, step] range or
// the enumerated values.
func Describe(item *Item, path string) ([]byte, error) {
	d := description{
		Path:        path,
		Type:        item.Kind.String(),
		Description: item.Description,
	}
	if item.Kind == KindArray {
		d.Count = item.Count
	}
	for _, child := range item.Children {
		d.Children = append(d.Children, child.Path)
	}
	for _, arg := range item.Args {
		ad := argDescription{
			Type:        string(rune(arg.Type)),
			Description: arg.Description,
			Read:        arg.Mode&ModeR != 0,
			Write:       arg.Mode&ModeW != 0,
		}
		if arg.Range != nil {
			ad.Range = []any{
				valueOf(arg.Type, arg.Range.Min),
				valueOf(arg.Type, arg.Range.Max),
				valueOf(arg.Type, arg.Range.Step),
			}
			if arg.Type == osc.String || arg.Type == osc.Symbol {
				ad.Range = []any{0, arg.Range.Max.I, 1}
			}
		}
		for _, v := range arg.Values {
			ad.Values = append(ad.Values, valueOf(arg.Type, v))
		}
		d.Args = append(d.Args, ad)
	}
	return json.Marshal(d)
}

func valueOf(t osc.Type, v Value) any {
	switch t {
	case osc.Float, osc.Double:
		return v.F
	case osc.String, osc.Symbol:
		return v.S
	default:
		return v.I
	}
}
