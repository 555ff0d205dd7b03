package pipecache

import (
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/gogpu/pipecache/internal/compose"
)

// ShaderID identifies a shader asset.
type ShaderID uuid.UUID

// shaderNamespace scopes path-derived shader ids.
var shaderNamespace = uuid.MustParse("6f1c7d2e-3a58-4d0b-9e41-2c5b8a7f0d13")

// NewShaderID returns a random shader id.
func NewShaderID() ShaderID {
	return ShaderID(uuid.New())
}

// ShaderIDFromPath returns a deterministic id for an asset path, so the
// same file always maps to the same shader.
func ShaderIDFromPath(path string) ShaderID {
	return ShaderID(uuid.NewSHA1(shaderNamespace, []byte(path)))
}

// String returns the canonical uuid form.
func (id ShaderID) String() string {
	return uuid.UUID(id).String()
}

// ImportKind tells asset path imports from module name imports.
type ImportKind uint8

// Import kinds.
const (
	// ImportAssetPath is a quoted file path: #import "shaders/util.wgsl".
	ImportAssetPath ImportKind = iota

	// ImportCustom is a module name: #import util::math.
	ImportCustom
)

// ShaderImport is a reference from one shader to another.
type ShaderImport struct {
	Kind ImportKind
	Path string
}

// AssetImport returns an asset path import.
func AssetImport(path string) ShaderImport {
	return ShaderImport{Kind: ImportAssetPath, Path: path}
}

// CustomImport returns a module name import.
func CustomImport(name string) ShaderImport {
	return ShaderImport{Kind: ImportCustom, Path: name}
}

// ModuleName returns the name the composer registers the import under.
func (i ShaderImport) ModuleName() string {
	return i.Path
}

func (i ShaderImport) String() string {
	if i.Kind == ImportAssetPath {
		return strconv.Quote(i.Path)
	}
	return i.Path
}

// ShaderDefKind is the value type of a ShaderDef.
type ShaderDefKind uint8

// Shader definition kinds.
const (
	ShaderDefBool ShaderDefKind = iota
	ShaderDefInt
	ShaderDefUInt
)

// ShaderDef is a named preprocessor value.
type ShaderDef struct {
	Name string
	Kind ShaderDefKind

	boolValue bool
	intValue  int32
	uintValue uint32
}

// Bool returns a boolean shader def.
func Bool(name string, v bool) ShaderDef {
	return ShaderDef{Name: name, Kind: ShaderDefBool, boolValue: v}
}

// Int returns a signed integer shader def.
func Int(name string, v int32) ShaderDef {
	return ShaderDef{Name: name, Kind: ShaderDefInt, intValue: v}
}

// UInt returns an unsigned integer shader def.
func UInt(name string, v uint32) ShaderDef {
	return ShaderDef{Name: name, Kind: ShaderDefUInt, uintValue: v}
}

// ValueString formats the def's value.
func (d ShaderDef) ValueString() string {
	return d.value().String()
}

func (d ShaderDef) String() string {
	return d.Name + "=" + d.ValueString()
}

func (d ShaderDef) value() compose.DefValue {
	switch d.Kind {
	case ShaderDefBool:
		return compose.BoolValue(d.boolValue)
	case ShaderDefInt:
		return compose.IntValue(d.intValue)
	case ShaderDefUInt:
		return compose.UIntValue(d.uintValue)
	default:
		panic("pipecache: unknown shader def kind " + strconv.Itoa(int(d.Kind)))
	}
}

// defsKey encodes an ordered def list. Order matters: the same defs in a
// different order give a different key.
func defsKey(defs []ShaderDef) string {
	var b []byte
	for _, d := range defs {
		b = binary.LittleEndian.AppendUint32(b, uint32(len(d.Name))) //nolint:gosec // G115: def names are short
		b = append(b, d.Name...)
		b = append(b, byte(d.Kind))
		v := d.ValueString()
		b = binary.LittleEndian.AppendUint32(b, uint32(len(v))) //nolint:gosec // G115: formatted values are short
		b = append(b, v...)
	}
	return string(b)
}

// Shader is the source of a WGSL shader with its import metadata.
type Shader struct {
	// Path is the asset path, used in diagnostics.
	Path string

	// Source is the WGSL with preprocessor directives.
	Source string

	// ImportPath is the name other shaders import this one by.
	ImportPath ShaderImport

	// Imports are the shaders this one imports.
	Imports []ShaderImport

	// Defs are appended to every compilation of this shader.
	Defs []ShaderDef

	// Validate asks the device to validate the module. Unvalidated shaders
	// are handed over as SPIR-V.
	Validate bool
}

// ParseShader builds a Shader from WGSL source, reading the
// #define_import_path and #import directives. Without
// #define_import_path the shader is imported by its asset path.
func ParseShader(path, source string) *Shader {
	importPath, imports := compose.Metadata(source)

	s := &Shader{
		Path:       path,
		Source:     source,
		ImportPath: AssetImport(path),
	}
	if importPath != "" {
		s.ImportPath = CustomImport(importPath)
	}

	seen := make(map[ShaderImport]bool, len(imports))
	for _, name := range imports {
		imp := CustomImport(name)
		if unquoted, err := strconv.Unquote(name); err == nil && strings.HasPrefix(name, `"`) {
			imp = AssetImport(unquoted)
		}
		if seen[imp] {
			continue
		}
		seen[imp] = true
		s.Imports = append(s.Imports, imp)
	}
	return s
}
