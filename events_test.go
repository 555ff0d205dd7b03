package pipecache

import "testing"

func TestShaderStore_Events(t *testing.T) {
	s := NewShaderStore()
	id := s.Add("a.wgsl", computeSource)
	s.Add("a.wgsl", computeSource+"\n")
	s.Remove(id)
	s.Remove(id)

	events := s.DrainEvents()
	want := []ShaderEventKind{ShaderAdded, ShaderModified, ShaderRemoved}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i, ev := range events {
		if ev.Kind != want[i] || ev.ID != id {
			t.Errorf("event %d = %v %v, want %v", i, ev.Kind, ev.ID, want[i])
		}
	}
	if len(s.DrainEvents()) != 0 {
		t.Error("DrainEvents should empty the queue")
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d after remove", s.Len())
	}
}

func TestShaderStore_Shader(t *testing.T) {
	s := NewShaderStore()
	id := s.Add("a.wgsl", computeSource)

	got, ok := s.Shader(id)
	if !ok || got.Path != "a.wgsl" || got.ImportPath != AssetImport("a.wgsl") {
		t.Fatalf("Shader() = %+v, %v", got, ok)
	}
	if _, ok := s.Shader(NewShaderID()); ok {
		t.Error("unknown id found")
	}
}

func TestShaderEventKind_String(t *testing.T) {
	if ShaderModified.String() != "Modified" || ShaderEventKind(9).String() != "ShaderEventKind(9)" {
		t.Error("unexpected kind names")
	}
}
