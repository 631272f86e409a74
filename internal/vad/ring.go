package vad

import "github.com/snarg/vad-transcriber/internal/audio"

type ringItem struct {
	frame  audio.Frame
	voiced bool
}

// ring keeps the most recent frames and their decisions, oldest first.
type ring struct {
	items  []ringItem
	start  int
	size   int
	voiced int
}

func newRing(capacity int) *ring {
	return &ring{items: make([]ringItem, capacity)}
}

func (r *ring) push(fr audio.Frame, voiced bool) {
	it := ringItem{frame: fr, voiced: voiced}
	if r.size < len(r.items) {
		r.items[(r.start+r.size)%len(r.items)] = it
		r.size++
	} else {
		if r.items[r.start].voiced {
			r.voiced--
		}
		r.items[r.start] = it
		r.start = (r.start + 1) % len(r.items)
	}
	if voiced {
		r.voiced++
	}
}

func (r *ring) capacity() int { return len(r.items) }

func (r *ring) numVoiced() int { return r.voiced }

func (r *ring) numUnvoiced() int { return r.size - r.voiced }

func (r *ring) frames() []audio.Frame {
	out := make([]audio.Frame, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.items[(r.start+i)%len(r.items)].frame
	}
	return out
}

func (r *ring) clear() {
	for i := range r.items {
		r.items[i] = ringItem{}
	}
	r.start, r.size, r.voiced = 0, 0, 0
}
