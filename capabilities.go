package pipecache

import (
	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga/spirv"
)

// Shader defs derived from the device. They are appended to the defs of
// every compilation.
const (
	defNoArrayTextures       = "NO_ARRAY_TEXTURES_SUPPORT"
	defNoCubeArrayTextures   = "NO_CUBE_ARRAY_TEXTURES_SUPPORT"
	defSixteenByteAlignment  = "SIXTEEN_BYTE_ALIGNMENT"
	defStorageBufferBindings = "AVAILABLE_STORAGE_BUFFER_BINDINGS"
)

// environmentDefs returns the shader defs describing what the device can do.
func environmentDefs(limits gputypes.Limits, flags DownlevelFlags) []ShaderDef {
	var defs []ShaderDef
	if !flags.Contains(DownlevelArrayTextures) {
		defs = append(defs, Bool(defNoArrayTextures, true))
	}
	if !flags.Contains(DownlevelCubeArrayTextures) {
		defs = append(defs, Bool(defNoCubeArrayTextures, true))
	}
	if !flags.Contains(DownlevelUnalignedBufferBindings) {
		defs = append(defs, Bool(defSixteenByteAlignment, true))
	}
	return append(defs, UInt(defStorageBufferBindings, limits.MaxStorageBuffersPerShaderStage))
}

// featureCapabilities lists the SPIR-V capabilities each device feature
// allows.
var featureCapabilities = []struct {
	feature      gputypes.Feature
	capabilities []spirv.Capability
}{
	{gputypes.FeatureShaderF16, []spirv.Capability{spirv.CapabilityFloat16}},
	{gputypes.FeatureShaderFloat64, []spirv.Capability{spirv.CapabilityFloat64}},
	{gputypes.FeatureSubgroupOperations, []spirv.Capability{
		spirv.CapabilityGroupNonUniform,
		spirv.CapabilityGroupNonUniformVote,
		spirv.CapabilityGroupNonUniformArithmetic,
		spirv.CapabilityGroupNonUniformBallot,
		spirv.CapabilityGroupNonUniformShuffle,
		spirv.CapabilityGroupNonUniformShuffleRel,
	}},
}

// spirvOptions returns the SPIR-V options for modules built on the
// unvalidated path. Every capability the device features allow is declared.
func spirvOptions(features gputypes.Features) spirv.Options {
	opts := spirv.DefaultOptions()
	for _, fc := range featureCapabilities {
		if features.Contains(fc.feature) {
			opts.Capabilities = append(opts.Capabilities, fc.capabilities...)
		}
	}
	return opts
}
