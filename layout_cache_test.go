package pipecache

import (
	"errors"
	"testing"
)

func TestLayoutCache_Get(t *testing.T) {
	dev := newFakeDevice()
	lc := newLayoutCache(dev)
	g0 := NewBindGroupLayout("g0", nil)
	g1 := NewBindGroupLayout("g1", nil)
	ranges := []PushConstantRange{{Stages: ShaderStageCompute, Start: 0, End: 16}}

	a, err := lc.get([]*BindGroupLayout{g0, g1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := lc.get([]*BindGroupLayout{g0, g1}, nil)
	swapped, _ := lc.get([]*BindGroupLayout{g1, g0}, nil)
	withRanges, _ := lc.get([]*BindGroupLayout{g0, g1}, ranges)

	if a != b {
		t.Error("same key must return the same layout")
	}
	if a == swapped || a == withRanges {
		t.Error("order and push constant ranges are part of the key")
	}
	if lc.hits.Load() != 1 || lc.misses.Load() != 3 {
		t.Errorf("hits/misses = %d/%d, want 1/3", lc.hits.Load(), lc.misses.Load())
	}
	if len(lc.all()) != 3 {
		t.Errorf("all() = %d layouts, want 3", len(lc.all()))
	}
	if got := dev.layoutDescs[2].PushConstantRanges; len(got) != 1 || got[0].End != 16 {
		t.Errorf("push constant ranges not forwarded: %+v", got)
	}
}

func TestLayoutCache_DeviceError(t *testing.T) {
	dev := newFakeDevice()
	dev.layoutErr = errors.New("too many bind groups")
	lc := newLayoutCache(dev)

	_, err := lc.get([]*BindGroupLayout{NewBindGroupLayout("g0", nil)}, nil)
	if !errors.Is(err, ErrPipelineCreation) {
		t.Errorf("err = %v, want ErrPipelineCreation", err)
	}
	if len(lc.all()) != 0 {
		t.Error("failed layout was cached")
	}
}

func TestResolveLayout_EmptyUsesDefault(t *testing.T) {
	lc := newLayoutCache(newFakeDevice())
	l, err := resolveLayout(lc, nil, nil)
	if l != nil || err != nil {
		t.Errorf("resolveLayout(nil, nil) = %v, %v", l, err)
	}
	l, err = resolveLayout(lc, nil, []PushConstantRange{{Stages: ShaderStageVertex, End: 4}})
	if l == nil || err != nil {
		t.Errorf("push constants alone should create a layout: %v, %v", l, err)
	}
}
