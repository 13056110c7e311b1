package storage

import "errors"

var errOverlayClosed = errors.New("storage: overlay already committed or discarded")

// Overlay buffers writes on top of a Database. Reads observe the buffered
// writes first. Nothing reaches the base until Commit, which applies the whole
// buffer as one atomic batch.
type Overlay struct {
	base    Database
	writes  map[string][]byte
	deletes map[string]struct{}
	order   []string
	closed  bool
}

// NewOverlay opens a write buffer over base.
func NewOverlay(base Database) *Overlay {
	return &Overlay{
		base:    base,
		writes:  make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}
}

func (o *Overlay) touch(k string) {
	if _, ok := o.writes[k]; ok {
		return
	}
	if _, ok := o.deletes[k]; ok {
		return
	}
	o.order = append(o.order, k)
}

// Put stages a write.
func (o *Overlay) Put(key, value []byte) error {
	if o.closed {
		return errOverlayClosed
	}
	k := string(key)
	o.touch(k)
	delete(o.deletes, k)
	o.writes[k] = append([]byte(nil), value...)
	return nil
}

// Get returns the staged value when present, else the base value.
func (o *Overlay) Get(key []byte) ([]byte, error) {
	if o.closed {
		return nil, errOverlayClosed
	}
	k := string(key)
	if _, ok := o.deletes[k]; ok {
		return nil, ErrNotFound
	}
	if v, ok := o.writes[k]; ok {
		return append([]byte(nil), v...), nil
	}
	return o.base.Get(key)
}

// Delete stages a removal.
func (o *Overlay) Delete(key []byte) error {
	if o.closed {
		return errOverlayClosed
	}
	k := string(key)
	o.touch(k)
	delete(o.writes, k)
	o.deletes[k] = struct{}{}
	return nil
}

// Dirty reports whether any write has been staged.
func (o *Overlay) Dirty() bool {
	return len(o.order) > 0
}

// Commit flushes the staged writes to the base in insertion order.
func (o *Overlay) Commit() error {
	if o.closed {
		return errOverlayClosed
	}
	batch := NewBatch()
	for _, k := range o.order {
		if _, ok := o.deletes[k]; ok {
			batch.Delete([]byte(k))
			continue
		}
		batch.Put([]byte(k), o.writes[k])
	}
	if err := o.base.Write(batch); err != nil {
		return err
	}
	o.closed = true
	return nil
}

// Discard drops every staged write.
func (o *Overlay) Discard() {
	o.writes = nil
	o.deletes = nil
	o.order = nil
	o.closed = true
}
