package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gogpu/gputypes"
	"gopkg.in/yaml.v3"

	"github.com/gogpu/pipecache"
)

// ErrBadManifest is returned for manifests that cannot be turned into
// pipeline descriptors.
var ErrBadManifest = errors.New("pipecache: bad manifest")

// Manifest lists the shaders directory and the pipelines to queue.
type Manifest struct {
	Shaders   string         `yaml:"shaders"`
	Sync      bool           `yaml:"sync"`
	Workers   int            `yaml:"workers"`
	Validate  *bool          `yaml:"validate"`
	Pipelines []PipelineSpec `yaml:"pipelines"`
}

// PipelineSpec is one pipeline of the manifest.
type PipelineSpec struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`

	Shader string    `yaml:"shader"`
	Defs   []DefSpec `yaml:"defs"`

	// Entry is the compute entry point.
	Entry string `yaml:"entry"`

	// Vertex and Fragment are render entry points. FragmentShader
	// defaults to Shader.
	Vertex         string `yaml:"vertex"`
	Fragment       string `yaml:"fragment"`
	FragmentShader string `yaml:"fragment_shader"`
}

// DefSpec is a shader def. Type is bool, int or uint.
type DefSpec struct {
	Name  string `yaml:"name"`
	Type  string `yaml:"type"`
	Value string `yaml:"value"`
}

// LoadManifest reads and checks a manifest. A relative shaders directory
// is resolved against the manifest's own directory.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if !filepath.IsAbs(m.Shaders) {
		m.Shaders = filepath.Join(filepath.Dir(path), m.Shaders)
	}
	return m, nil
}

// ParseManifest decodes a YAML manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadManifest, err)
	}
	if m.Shaders == "" {
		m.Shaders = "."
	}
	for i := range m.Pipelines {
		p := &m.Pipelines[i]
		if p.Shader == "" {
			return nil, fmt.Errorf("%w: pipeline %d (%s) has no shader", ErrBadManifest, i, p.Name)
		}
		switch p.Kind {
		case "", "compute":
			p.Kind = "compute"
			if p.Entry == "" {
				p.Entry = "main"
			}
		case "render":
			if p.Vertex == "" {
				p.Vertex = "vs_main"
			}
		default:
			return nil, fmt.Errorf("%w: pipeline %q has unknown kind %q", ErrBadManifest, p.Name, p.Kind)
		}
		if _, err := p.shaderDefs(); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

// ValidateShaders reports whether shaders are validated. The default is on.
func (m *Manifest) ValidateShaders() bool {
	return m.Validate == nil || *m.Validate
}

func (p *PipelineSpec) shaderDefs() ([]pipecache.ShaderDef, error) {
	defs := make([]pipecache.ShaderDef, 0, len(p.Defs))
	for _, d := range p.Defs {
		def, err := d.shaderDef()
		if err != nil {
			return nil, fmt.Errorf("%w: pipeline %q: %w", ErrBadManifest, p.Name, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func (d DefSpec) shaderDef() (pipecache.ShaderDef, error) {
	if d.Name == "" {
		return pipecache.ShaderDef{}, errors.New("shader def without a name")
	}
	switch d.Type {
	case "", "bool":
		v := true
		if d.Value != "" {
			b, err := strconv.ParseBool(d.Value)
			if err != nil {
				return pipecache.ShaderDef{}, fmt.Errorf("def %s: %w", d.Name, err)
			}
			v = b
		}
		return pipecache.Bool(d.Name, v), nil
	case "int":
		v, err := strconv.ParseInt(d.Value, 10, 32)
		if err != nil {
			return pipecache.ShaderDef{}, fmt.Errorf("def %s: %w", d.Name, err)
		}
		return pipecache.Int(d.Name, int32(v)), nil
	case "uint":
		v, err := strconv.ParseUint(d.Value, 10, 32)
		if err != nil {
			return pipecache.ShaderDef{}, fmt.Errorf("def %s: %w", d.Name, err)
		}
		return pipecache.UInt(d.Name, uint32(v)), nil
	default:
		return pipecache.ShaderDef{}, fmt.Errorf("def %s: unknown type %q", d.Name, d.Type)
	}
}

// queued is a manifest pipeline with its cache id.
type queued struct {
	spec    PipelineSpec
	render  pipecache.RenderPipelineID
	compute pipecache.ComputePipelineID
}

func (q queued) state(c *pipecache.PipelineCache) pipecache.State {
	if q.spec.Kind == "render" {
		return c.RenderPipelineState(q.render)
	}
	return c.ComputePipelineState(q.compute)
}

// queueAll queues every manifest pipeline on c.
func queueAll(c *pipecache.PipelineCache, m *Manifest) []queued {
	out := make([]queued, 0, len(m.Pipelines))
	for _, spec := range m.Pipelines {
		defs, _ := spec.shaderDefs() // checked by ParseManifest
		shader := pipecache.ShaderIDFromPath(spec.Shader)

		q := queued{spec: spec}
		if spec.Kind == "render" {
			desc := &pipecache.RenderPipelineDescriptor{
				Label:       spec.Name,
				Vertex:      pipecache.VertexState{Shader: shader, ShaderDefs: defs, EntryPoint: spec.Vertex},
				Primitive:   gputypes.PrimitiveState{Topology: gputypes.PrimitiveTopologyTriangleList},
				Multisample: gputypes.MultisampleState{Count: 1, Mask: 0xFFFFFFFF},
			}
			if spec.Fragment != "" {
				fs := shader
				if spec.FragmentShader != "" {
					fs = pipecache.ShaderIDFromPath(spec.FragmentShader)
				}
				desc.Fragment = &pipecache.FragmentState{
					Shader:     fs,
					ShaderDefs: defs,
					EntryPoint: spec.Fragment,
					Targets: []gputypes.ColorTargetState{{
						Format:    gputypes.TextureFormatBGRA8Unorm,
						WriteMask: gputypes.ColorWriteMaskAll,
					}},
				}
			}
			q.render = c.QueueRenderPipeline(desc)
		} else {
			q.compute = c.QueueComputePipeline(&pipecache.ComputePipelineDescriptor{
				Label:      spec.Name,
				Shader:     shader,
				ShaderDefs: defs,
				EntryPoint: spec.Entry,
			})
		}
		out = append(out, q)
	}
	return out
}
