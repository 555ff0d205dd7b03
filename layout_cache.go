package pipecache

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
)

// layoutCache memoizes pipeline layouts by the exact ordered list of bind
// group layout ids and push constant ranges. Layouts live as long as the
// cache.
//
// get requires mu to be held.
type layoutCache struct {
	mu sync.Mutex

	device  Device
	layouts map[string]*PipelineLayout

	hits   atomic.Uint64
	misses atomic.Uint64
}

func newLayoutCache(device Device) *layoutCache {
	return &layoutCache{
		device:  device,
		layouts: make(map[string]*PipelineLayout),
	}
}

// get returns the shared layout for the key, creating it on a miss.
// Reordering bindGroupLayouts gives a different key.
func (lc *layoutCache) get(bindGroupLayouts []*BindGroupLayout, ranges []PushConstantRange) (*PipelineLayout, error) {
	key := layoutKey(bindGroupLayouts, ranges)
	if layout, ok := lc.layouts[key]; ok {
		lc.hits.Add(1)
		return layout, nil
	}
	lc.misses.Add(1)

	raw, err := lc.device.CreatePipelineLayout(&PipelineLayoutDescriptor{
		BindGroupLayouts:   bindGroupLayouts,
		PushConstantRanges: ranges,
	})
	if err != nil {
		return nil, &Error{Kind: KindPipelineCreation, Diagnostic: "pipeline layout: " + err.Error(), Err: err}
	}

	layout := &PipelineLayout{id: nextObjectID(), raw: raw}
	lc.layouts[key] = layout
	return layout, nil
}

// all returns every cached layout.
func (lc *layoutCache) all() []*PipelineLayout {
	out := make([]*PipelineLayout, 0, len(lc.layouts))
	for _, l := range lc.layouts {
		out = append(out, l)
	}
	return out
}

func layoutKey(bindGroupLayouts []*BindGroupLayout, ranges []PushConstantRange) string {
	b := make([]byte, 0, 8*len(bindGroupLayouts)+12*len(ranges)+8)
	//nolint:gosec // G115: layout counts are bounded by device limits
	b = binary.LittleEndian.AppendUint32(b, uint32(len(bindGroupLayouts)))
	for _, l := range bindGroupLayouts {
		var id uint64
		if l != nil {
			id = l.id
		}
		b = binary.LittleEndian.AppendUint64(b, id)
	}
	//nolint:gosec // G115: push constant range counts are tiny
	b = binary.LittleEndian.AppendUint32(b, uint32(len(ranges)))
	for _, r := range ranges {
		b = binary.LittleEndian.AppendUint32(b, uint32(r.Stages))
		b = binary.LittleEndian.AppendUint32(b, r.Start)
		b = binary.LittleEndian.AppendUint32(b, r.End)
	}
	return string(b)
}
