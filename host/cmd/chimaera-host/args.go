package main

import (
	"fmt"
	"strconv"
	"strings"

	"chimaera/osc"
)

// parseArgs converts command line words into values for format.
func parseArgs(format string, words []string) ([]any, error) {
	format = strings.TrimPrefix(format, ",")
	if !osc.ValidFormat(format) {
		return nil, fmt.Errorf("invalid format %q", format)
	}
	var out []any
	for i := 0; i < len(format); i++ {
		t := osc.Type(format[i])
		if !t.HasPayload() {
			continue
		}
		if len(words) == 0 {
			return nil, fmt.Errorf("missing argument for '%c'", t)
		}
		w := words[0]
		words = words[1:]

		var v any
		var err error
		switch t {
		case osc.Int32:
			var n int64
			n, err = strconv.ParseInt(w, 0, 32)
			v = int32(n)
		case osc.Int64:
			v, err = strconv.ParseInt(w, 0, 64)
		case osc.Float:
			var f float64
			f, err = strconv.ParseFloat(w, 32)
			v = float32(f)
		case osc.Double:
			v, err = strconv.ParseFloat(w, 64)
		case osc.String, osc.Symbol:
			v = w
		case osc.Char:
			if len(w) != 1 {
				err = fmt.Errorf("want one character")
			} else {
				v = w[0]
			}
		case osc.TimeTag:
			var n uint64
			n, err = strconv.ParseUint(w, 0, 64)
			v = osc.Timetag(n)
		default:
			err = fmt.Errorf("type '%c' not supported on the command line", t)
		}
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", w, err)
		}
		out = append(out, v)
	}
	if len(words) > 0 {
		return nil, fmt.Errorf("%d extra arguments", len(words))
	}
	return out, nil
}

// formatValues renders reply values for the terminal.
func formatValues(format string, values []any) string {
	var sb strings.Builder
	for i, v := range values {
		if i > 0 {
			sb.WriteByte(' ')
		}
		switch x := v.(type) {
		case string:
			sb.WriteString(strconv.Quote(x))
		case bool:
			sb.WriteString(strconv.FormatBool(x))
		case nil:
			if i < len(format) && osc.Type(format[i]) == osc.Bang {
				sb.WriteString("bang")
			} else {
				sb.WriteString("nil")
			}
		default:
			fmt.Fprint(&sb, x)
		}
	}
	return sb.String()
}
