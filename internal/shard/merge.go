package shard

import "container/heap"

type mergeItem struct {
	row *MessageRow
	src Cursor
}

type rowHeap []*mergeItem

func (h rowHeap) Len() int           { return len(h) }
func (h rowHeap) Less(i, j int) bool { return Less(h[i].row, h[j].row) }
func (h rowHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *rowHeap) Push(x any) { *h = append(*h, x.(*mergeItem)) }

func (h *rowHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Merge combines per-shard ordered cursors into one globally ordered cursor
// without materializing any source. A source that fails mid-stream is
// reported to onSkip (may be nil) and dropped; the rest continue.
func Merge(cursors []Cursor, onSkip func(error)) Cursor {
	m := &mergeCursor{sources: cursors, onSkip: onSkip}
	for _, c := range cursors {
		m.advance(c)
	}
	return m
}

type mergeCursor struct {
	h       rowHeap
	sources []Cursor
	onSkip  func(error)
}

func (m *mergeCursor) advance(c Cursor) {
	row, err := c.Next()
	if err != nil {
		if m.onSkip != nil {
			m.onSkip(err)
		}
		return
	}
	if row == nil {
		return
	}
	heap.Push(&m.h, &mergeItem{row: row, src: c})
}

func (m *mergeCursor) Next() (*MessageRow, error) {
	if m.h.Len() == 0 {
		return nil, nil
	}
	it := heap.Pop(&m.h).(*mergeItem)
	m.advance(it.src)
	return it.row, nil
}

func (m *mergeCursor) Close() error {
	var first error
	for _, c := range m.sources {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	m.sources = nil
	m.h = nil
	return first
}
