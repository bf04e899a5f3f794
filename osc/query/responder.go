package query

import (
	"errors"
	"log/slog"
	"strings"

	"chimaera/osc"
)

// Reply paths
const (
	PathSuccess = "/success"
	PathError   = "/error"
)

// DescribeSuffix appended to a path requests the item's description.
const DescribeSuffix = "!"

var (
	// ErrNoRequestID is returned for requests whose first argument is not
	// an int32 request id.
	ErrNoRequestID = errors.New("query: request without id")
)

// Responder answers configuration requests against a query tree. Every
// request carries an int32 id as its first argument which is echoed in the
// reply: "/success ,is id path [values]" or "/error ,iss id path reason".
type Responder struct {
	root *Item
	buf  []byte
	log  *slog.Logger
}

// NewResponder serializes replies into buf. log may be nil.
func NewResponder(root *Item, buf []byte, log *slog.Logger) *Responder {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Responder{root: root, buf: buf, log: log}
}

// Handle processes a request packet and returns the reply. Bundles are
// answered with a bundle of replies. The reply aliases the responder's
// buffer and is valid until the next call.
func (r *Responder) Handle(pkt []byte) ([]byte, error) {
	if !osc.CheckPacket(pkt) {
		return nil, osc.ErrMalformed
	}
	w := osc.NewWriter(r.buf)
	if pkt[0] == '#' {
		tt, rd := osc.Bundle(pkt)
		bm := w.StartBundle(tt)
		for item := rd.NextItem(); item != nil; item = rd.NextItem() {
			if item[0] != '/' {
				continue
			}
			im := w.StartItem()
			if err := r.message(w, item); err != nil {
				r.log.Debug("query: request dropped", slog.Any("err", err))
			}
			w.EndItem(im)
		}
		w.EndBundle(bm)
	} else if err := r.message(w, pkt); err != nil {
		return nil, err
	}
	if err := w.Err(); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func (r *Responder) message(w *osc.Writer, pkt []byte) error {
	rd := osc.NewReader(pkt)
	path := rd.GetPath()
	format := rd.GetFormat()[1:]
	if len(format) == 0 || osc.Type(format[0]) != osc.Int32 {
		return ErrNoRequestID
	}
	id := rd.GetInt32()
	format = format[1:]

	if target, ok := strings.CutSuffix(path, DescribeSuffix); ok {
		item, _ := Find(r.root, target)
		if item == nil {
			return r.fail(w, id, path, "unknown path")
		}
		desc, err := Describe(item, target)
		if err != nil {
			return r.fail(w, id, path, err.Error())
		}
		w.SetVarlist(PathSuccess, "iss", id, path, string(desc))
		return w.Err()
	}

	item, index := Find(r.root, path)
	switch {
	case item == nil:
		return r.fail(w, id, path, "unknown path")
	case item.Kind != KindMethod || item.Handler == nil:
		return r.fail(w, id, path, "not a method")
	case !Check(item, format, rd.Remaining()):
		return r.fail(w, id, path, "invalid arguments")
	}

	call := Call{
		Item:   item,
		Path:   path,
		Index:  index,
		Format: format,
		Args:   osc.NewReader(rd.Remaining()),
	}
	if err := item.Handler(&call); err != nil {
		return r.fail(w, id, path, err.Error())
	}
	args := make([]any, 0, 2+len(call.values))
	args = append(args, id, path)
	args = append(args, call.values...)
	w.SetVarlist(PathSuccess, "is"+call.format, args...)
	return w.Err()
}

func (r *Responder) fail(w *osc.Writer, id int32, path, reason string) error {
	r.log.Debug("query: request failed", slog.String("path", path), slog.String("reason", reason))
	w.SetVarlist(PathError, "iss", id, path, reason)
	return w.Err()
}
