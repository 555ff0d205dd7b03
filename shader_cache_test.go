package pipecache

import (
	"errors"
	"slices"
	"testing"
)

const commonModule = `#define_import_path common
fn common_value() -> f32 {
    return 1.0;
}
`

const usesCommonModule = `#import common
fn uses_common() -> f32 {
    return common_value();
}
@compute @workgroup_size(1)
fn main() {}
`

func newTestShaderCache(t *testing.T) (*shaderCache, *fakeDevice) {
	t.Helper()
	dev := newFakeDevice()
	return newShaderCache(dev, true, Logger), dev
}

func addShader(sc *shaderCache, path, source string) ShaderID {
	id := ShaderIDFromPath(path)
	s := ParseShader(path, source)
	s.Validate = true
	sc.setShader(id, s)
	return id
}

func TestShaderCache_InvalidateTransitive(t *testing.T) {
	sc, _ := newTestShaderCache(t)
	common := addShader(sc, "common.wgsl", commonModule)
	user := addShader(sc, "user.wgsl", usesCommonModule)

	if _, err := sc.get(0, common, nil); err != nil {
		t.Fatalf("get(common) failed: %v", err)
	}
	if _, err := sc.get(1, user, nil); err != nil {
		t.Fatalf("get(user) failed: %v", err)
	}
	if len(sc.modules()) != 2 {
		t.Fatalf("modules = %d, want 2", len(sc.modules()))
	}

	got := sc.invalidate(common)
	if !slices.Equal(got, []CachedPipelineID{0, 1}) {
		t.Errorf("invalidate = %v, want [0 1]", got)
	}
	if len(sc.modules()) != 0 {
		t.Error("invalidate should drop every processed module downstream")
	}
	if sc.composer.Contains("common") {
		t.Error("composer still holds the invalidated module")
	}
}

func TestShaderCache_ImportCycleTerminates(t *testing.T) {
	sc, _ := newTestShaderCache(t)
	a := addShader(sc, "a.wgsl", "#define_import_path a\n#import b\nfn fa() {}\n")
	addShader(sc, "b.wgsl", "#define_import_path b\n#import a\nfn fb() {}\n")

	_, err := sc.get(0, a, nil)
	var pe *Error
	if !errors.As(err, &pe) || pe.Kind != KindShaderCompile {
		t.Fatalf("get on a cycle = %v, want a ShaderCompile error", err)
	}

	// Invalidation walks the cyclic dependents graph once.
	if got := sc.invalidate(a); !slices.Equal(got, []CachedPipelineID{0}) {
		t.Errorf("invalidate = %v, want [0]", got)
	}
}

func TestShaderCache_ImportPathChange(t *testing.T) {
	sc, _ := newTestShaderCache(t)
	common := addShader(sc, "common.wgsl", commonModule)
	user := addShader(sc, "user.wgsl", usesCommonModule)

	if sc.data[user].resolvedImports[CustomImport("common")] != common {
		t.Fatal("import not resolved")
	}

	addShader(sc, "common.wgsl", "#define_import_path renamed\nfn common_value() -> f32 { return 2.0; }\n")

	if sc.resolves(CustomImport("common")) {
		t.Error("old import path still resolves")
	}
	if !sc.resolves(CustomImport("renamed")) {
		t.Error("new import path does not resolve")
	}
	if !slices.Contains(sc.waitingOnImport[CustomImport("common")], user) {
		t.Error("dependent should wait for the old import path again")
	}
	if _, ok := sc.data[common].dependents[user]; ok {
		t.Error("stale dependents edge left behind")
	}

	// The shader comes back under its old name.
	addShader(sc, "common2.wgsl", commonModule)
	if _, err := sc.get(0, user, nil); err != nil {
		t.Errorf("get after the import returned: %v", err)
	}
}

func TestShaderCache_ImportNotYetAvailable(t *testing.T) {
	sc, dev := newTestShaderCache(t)
	user := addShader(sc, "user.wgsl", importingSource)

	_, err := sc.get(0, user, nil)
	if !errors.Is(err, ErrShaderImportNotYetAvailable) {
		t.Fatalf("err = %v, want ErrShaderImportNotYetAvailable", err)
	}
	if _, ok := sc.data[user].pipelines[0]; ok {
		t.Error("pipeline recorded before the imports resolved")
	}
	if dev.shaderModuleCount() != 0 {
		t.Error("module created for a shader with missing imports")
	}
}

func TestShaderCache_RemoveUnknown(t *testing.T) {
	sc, _ := newTestShaderCache(t)
	if got := sc.removeShader(NewShaderID()); len(got) != 0 {
		t.Errorf("removeShader(unknown) = %v", got)
	}
}

func TestSPIRVWords(t *testing.T) {
	words := spirvWords([]byte{0x03, 0x02, 0x23, 0x07, 0x01, 0x00, 0x00, 0x00})
	if !slices.Equal(words, []uint32{0x07230203, 1}) {
		t.Errorf("spirvWords = %#x", words)
	}
}
