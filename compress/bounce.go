package compress

import (
	"github.com/INLOpen/nexusfs/core"
	"github.com/INLOpen/nexusfs/iobuf"
)

// bounceKind records how a bounce buffer's memory was obtained, so release
// can undo exactly the acquisition that happened.
type bounceKind uint8

const (
	// bounceNone aliases the caller's first fragment. Nothing to release.
	bounceNone bounceKind = iota
	// bounceMapped is a zero-copy view merged over adjacent fragments.
	bounceMapped
	// bounceHeap is a plain allocation accounted against the transient
	// memory budget.
	bounceHeap
	// bouncePooled came from the per-direction bounce pool.
	bouncePooled
)

// bounceBuf is a contiguous staging area for codec access to a buffer that
// may be fragmented. data is sized to the request; full retains the pooled
// backing slice when kind is bouncePooled.
type bounceBuf struct {
	data   []byte
	full   []byte
	kind   bounceKind
	intent iobuf.Intent
}

func (e *Engine) bouncePool(intent iobuf.Intent) *core.BytePool {
	if intent == iobuf.Read {
		return e.bounceRead.Load()
	}
	return e.bounceWrite.Load()
}

// bounceAlloc obtains a contiguous scratch buffer of size bytes. Sources
// are tried cheapest-first: a plain allocation while transient memory
// stays under the soft budget, the bounce pool without blocking, a plain
// allocation up to the hard budget, and finally a blocking pool borrow,
// which is guaranteed to succeed eventually because pool buffers are only
// ever held for the duration of one call.
func (e *Engine) bounceAlloc(size int, intent iobuf.Intent) bounceBuf {
	core.Assertf(size > 0 && size <= e.maxExtentBytes,
		"compress: bounce request of %d bytes outside (0,%d]", size, e.maxExtentBytes)
	pool := e.bouncePool(intent)
	core.Assertf(pool != nil, "compress: %s bounce pool not initialized", intent)

	if e.reserve(size, e.cfg.BounceSoftBudgetBytes) {
		return bounceBuf{data: make([]byte, size), kind: bounceHeap, intent: intent}
	}
	if b, ok := pool.TryGet(); ok {
		return bounceBuf{data: b[:size], full: b, kind: bouncePooled, intent: intent}
	}
	if e.reserve(size, e.cfg.BounceHardBudgetBytes) {
		return bounceBuf{data: make([]byte, size), kind: bounceHeap, intent: intent}
	}
	b := pool.Get()
	return bounceBuf{data: b[:size], full: b, kind: bouncePooled, intent: intent}
}

// reserve charges size bytes against the transient budget, backing out on
// overflow.
func (e *Engine) reserve(size int, budget int64) bool {
	if e.bounceBytes.Add(int64(size)) <= budget {
		return true
	}
	e.bounceBytes.Add(int64(-size))
	return false
}

// mapOrBounce hands back a contiguous view of the first size bytes of buf,
// zero-copy when the fragment layout allows it and bounced otherwise. For
// read intent a bounced buffer is filled from buf; for write intent the
// caller fills it and copies out afterwards.
func (e *Engine) mapOrBounce(buf *iobuf.Buffer, size int, intent iobuf.Intent) bounceBuf {
	if data, spanned, ok := buf.Contiguous(size); ok {
		kind := bounceNone
		if spanned {
			kind = bounceMapped
		}
		return bounceBuf{data: data, kind: kind, intent: intent}
	}
	b := e.bounceAlloc(size, intent)
	if intent == iobuf.Read {
		buf.CopyIn(b.data)
	}
	return b
}

// release returns a bounce buffer to wherever it came from. Exactly one
// release per bounceBuf; the zero-copy kinds are no-ops apart from that
// contract.
func (e *Engine) release(b bounceBuf) {
	switch b.kind {
	case bounceNone, bounceMapped:
	case bounceHeap:
		e.bounceBytes.Add(int64(-len(b.data)))
	case bouncePooled:
		e.bouncePool(b.intent).Put(b.full)
	}
}
