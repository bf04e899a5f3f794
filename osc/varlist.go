package osc

import "time"

// SetVarlist writes a complete message: path, ",f" and one argument per
// type tag of f taken in order from args. Tags without payload consume no
// argument. Unknown tags are skipped without consuming an argument; they
// still appear in the written format string.
func (w *Writer) SetVarlist(path, f string, args ...any) bool {
	if !w.SetMessage(path, f) {
		return false
	}
	return w.SetArgs(f, args...)
}

// SetArgs writes the argument section for format f.
func (w *Writer) SetArgs(f string, args ...any) bool {
	if len(f) > 0 && f[0] == ',' {
		f = f[1:]
	}
	for i := 0; i < len(f); i++ {
		t := Type(f[i])
		if !t.Valid() || !t.HasPayload() {
			continue
		}
		if len(args) == 0 {
			return w.fail(ErrBadArgument)
		}
		if !w.SetValue(t, args[0]) {
			return false
		}
		args = args[1:]
	}
	return w.OK()
}

// SetValue writes v as an argument of type t. Integer kinds convert to the
// integer tags, float kinds to 'f' and 'd'. Any other mismatch poisons the
// writer with ErrBadArgument.
func (w *Writer) SetValue(t Type, v any) bool {
	switch t {
	case Int32:
		n, ok := toInt64(v)
		if !ok {
			return w.fail(ErrBadArgument)
		}
		return w.SetInt32(int32(n))
	case Int64:
		n, ok := toInt64(v)
		if !ok {
			return w.fail(ErrBadArgument)
		}
		return w.SetInt64(n)
	case Float:
		f, ok := toFloat64(v)
		if !ok {
			return w.fail(ErrBadArgument)
		}
		return w.SetFloat(float32(f))
	case Double:
		f, ok := toFloat64(v)
		if !ok {
			return w.fail(ErrBadArgument)
		}
		return w.SetDouble(f)
	case String, Symbol:
		s, ok := v.(string)
		if !ok {
			return w.fail(ErrBadArgument)
		}
		return w.SetString(s)
	case Blob:
		b, ok := v.([]byte)
		if !ok {
			return w.fail(ErrBadArgument)
		}
		return w.SetBlob(b)
	case TimeTag:
		switch x := v.(type) {
		case Timetag:
			return w.SetTimetag(x)
		case uint64:
			return w.SetTimetag(Timetag(x))
		case time.Time:
			return w.SetTimetag(NewTimetag(x))
		}
		return w.fail(ErrBadArgument)
	case Char:
		switch x := v.(type) {
		case byte:
			return w.SetChar(x)
		case rune:
			return w.SetChar(byte(x))
		case string:
			if len(x) == 1 {
				return w.SetChar(x[0])
			}
		}
		return w.fail(ErrBadArgument)
	case MIDI:
		switch x := v.(type) {
		case MIDIMessage:
			return w.SetMIDI(x)
		case [4]byte:
			return w.SetMIDI(MIDIMessage(x))
		}
		return w.fail(ErrBadArgument)
	case True, False, Nil, Bang:
		return w.OK()
	}
	return w.fail(ErrBadArgument)
}

func (w *Writer) fail(err error) bool {
	if w.err == nil {
		w.err = err
	}
	return false
}

func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		return int64(x), true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		return int64(x), true
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	if n, ok := toInt64(v); ok {
		return float64(n), true
	}
	return 0, false
}
