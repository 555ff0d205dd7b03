package compose

import (
	"fmt"
	"strconv"
	"strings"
)

// DefKind is the type of a shader definition value.
type DefKind uint8

// Definition value kinds.
const (
	DefBool DefKind = iota
	DefInt
	DefUInt
)

// DefValue is the value of a preprocessor definition.
type DefValue struct {
	Kind DefKind
	Bool bool
	Int  int32
	UInt uint32
}

// BoolValue returns a boolean definition value.
func BoolValue(v bool) DefValue { return DefValue{Kind: DefBool, Bool: v} }

// IntValue returns a signed integer definition value.
func IntValue(v int32) DefValue { return DefValue{Kind: DefInt, Int: v} }

// UIntValue returns an unsigned integer definition value.
func UIntValue(v uint32) DefValue { return DefValue{Kind: DefUInt, UInt: v} }

// String formats the value the way it is substituted into WGSL.
func (v DefValue) String() string {
	switch v.Kind {
	case DefBool:
		return strconv.FormatBool(v.Bool)
	case DefInt:
		return strconv.FormatInt(int64(v.Int), 10)
	case DefUInt:
		return strconv.FormatUint(uint64(v.UInt), 10) + "u"
	default:
		panic(fmt.Sprintf("compose: unknown def kind %d", v.Kind))
	}
}

// enabled reports whether an #ifdef on this value takes the branch.
// A boolean def set to false counts as undefined.
func (v DefValue) enabled() bool {
	return v.Kind != DefBool || v.Bool
}

// compare evaluates "v op raw" for an #if directive.
func (v DefValue) compare(op, raw string) (bool, error) {
	var cmp int
	switch v.Kind {
	case DefBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return false, fmt.Errorf("invalid bool value %q", raw)
		}
		if op != "==" && op != "!=" {
			return false, fmt.Errorf("operator %s is not defined for bool", op)
		}
		if (v.Bool == b) == (op == "==") {
			return true, nil
		}
		return false, nil
	case DefInt:
		n, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return false, fmt.Errorf("invalid int value %q", raw)
		}
		cmp = compareInts(int64(v.Int), n)
	case DefUInt:
		n, err := strconv.ParseUint(strings.TrimSuffix(raw, "u"), 10, 32)
		if err != nil {
			return false, fmt.Errorf("invalid uint value %q", raw)
		}
		cmp = compareInts(int64(v.UInt), int64(n)) //nolint:gosec // G115: n fits in 32 bits
	default:
		panic(fmt.Sprintf("compose: unknown def kind %d", v.Kind))
	}

	switch op {
	case "==":
		return cmp == 0, nil
	case "!=":
		return cmp != 0, nil
	case "<":
		return cmp < 0, nil
	case "<=":
		return cmp <= 0, nil
	case ">":
		return cmp > 0, nil
	case ">=":
		return cmp >= 0, nil
	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}

func compareInts(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// parseDefineValue parses the optional value of a #define directive.
func parseDefineValue(raw string) DefValue {
	if raw == "" {
		return BoolValue(true)
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return BoolValue(b)
	}
	if strings.HasSuffix(raw, "u") {
		if n, err := strconv.ParseUint(strings.TrimSuffix(raw, "u"), 10, 32); err == nil {
			return UIntValue(uint32(n))
		}
	}
	if n, err := strconv.ParseInt(raw, 10, 32); err == nil {
		return IntValue(int32(n))
	}
	// Anything else is treated as a plain toggle.
	return BoolValue(true)
}

// condFrame is one level of #if nesting.
type condFrame struct {
	parentActive bool
	active       bool
	taken        bool
	line         int
}

// preprocessed is the output of running the preprocessor over one source.
type preprocessed struct {
	body    string
	imports []string
}

// preprocess evaluates conditional directives against defs, substitutes
// #{NAME} references and collects the imports of the active regions.
// Local #define directives only affect the rest of this source.
func preprocess(path, source string, defs map[string]DefValue) (*preprocessed, error) {
	local := make(map[string]DefValue, len(defs))
	for k, v := range defs {
		local[k] = v
	}

	var (
		stack   []condFrame
		out     strings.Builder
		imports []string
	)
	active := func() bool {
		if len(stack) == 0 {
			return true
		}
		return stack[len(stack)-1].active
	}
	fail := func(line int, format string, args ...any) error {
		return &Error{Path: path, Line: line, Msg: fmt.Sprintf(format, args...)}
	}

	lines := strings.Split(source, "\n")
	for i, line := range lines {
		lineNo := i + 1
		trimmed := strings.TrimSpace(line)

		if !strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "#{") {
			if !active() {
				continue
			}
			expanded, err := substitute(line, local)
			if err != nil {
				return nil, fail(lineNo, "%v", err)
			}
			out.WriteString(expanded)
			out.WriteByte('\n')
			continue
		}

		directive, rest, _ := strings.Cut(trimmed[1:], " ")
		rest = strings.TrimSpace(rest)

		switch directive {
		case "ifdef", "ifndef", "if":
			parent := active()
			cond := false
			if parent {
				var err error
				cond, err = evalCondition(directive, rest, local)
				if err != nil {
					return nil, fail(lineNo, "%v", err)
				}
			}
			stack = append(stack, condFrame{
				parentActive: parent,
				active:       parent && cond,
				taken:        cond,
				line:         lineNo,
			})

		case "else":
			if len(stack) == 0 {
				return nil, fail(lineNo, "#else without matching #if")
			}
			top := &stack[len(stack)-1]
			if rest == "" {
				top.active = top.parentActive && !top.taken
				top.taken = true
				break
			}
			// #else ifdef / #else ifndef / #else if
			sub, subRest, _ := strings.Cut(rest, " ")
			if sub != "ifdef" && sub != "ifndef" && sub != "if" {
				return nil, fail(lineNo, "unexpected tokens after #else: %q", rest)
			}
			if top.taken || !top.parentActive {
				top.active = false
				break
			}
			cond, err := evalCondition(sub, strings.TrimSpace(subRest), local)
			if err != nil {
				return nil, fail(lineNo, "%v", err)
			}
			top.active = cond
			top.taken = cond

		case "endif":
			if len(stack) == 0 {
				return nil, fail(lineNo, "#endif without matching #if")
			}
			stack = stack[:len(stack)-1]

		case "define":
			if !active() {
				continue
			}
			name, value, _ := strings.Cut(rest, " ")
			if name == "" {
				return nil, fail(lineNo, "#define without a name")
			}
			local[name] = parseDefineValue(strings.TrimSpace(value))

		case "import":
			if !active() {
				continue
			}
			name := importName(rest)
			if name == "" {
				return nil, fail(lineNo, "#import without a module")
			}
			imports = append(imports, name)

		case "define_import_path":
			// Metadata only, see Metadata.

		default:
			return nil, fail(lineNo, "unknown directive #%s", directive)
		}
	}

	if len(stack) > 0 {
		return nil, fail(stack[len(stack)-1].line, "unterminated conditional block")
	}

	return &preprocessed{body: out.String(), imports: imports}, nil
}

// evalCondition evaluates the argument of #ifdef, #ifndef or #if.
func evalCondition(directive, arg string, defs map[string]DefValue) (bool, error) {
	switch directive {
	case "ifdef", "ifndef":
		if arg == "" {
			return false, fmt.Errorf("#%s without a name", directive)
		}
		v, ok := defs[arg]
		defined := ok && v.enabled()
		if directive == "ifdef" {
			return defined, nil
		}
		return !defined, nil
	case "if":
		fields := strings.Fields(arg)
		if len(fields) != 3 {
			return false, fmt.Errorf("malformed #if %q, want \"NAME op value\"", arg)
		}
		v, ok := defs[fields[0]]
		if !ok {
			return false, fmt.Errorf("unknown shader def %q", fields[0])
		}
		return v.compare(fields[1], fields[2])
	default:
		return false, fmt.Errorf("unknown conditional #%s", directive)
	}
}

// substitute replaces #{NAME} references in line.
func substitute(line string, defs map[string]DefValue) (string, error) {
	if !strings.Contains(line, "#{") {
		return line, nil
	}
	var b strings.Builder
	for {
		start := strings.Index(line, "#{")
		if start < 0 {
			b.WriteString(line)
			return b.String(), nil
		}
		end := strings.IndexByte(line[start:], '}')
		if end < 0 {
			return "", fmt.Errorf("unterminated #{ substitution")
		}
		name := line[start+2 : start+end]
		v, ok := defs[name]
		if !ok {
			return "", fmt.Errorf("unknown shader def %q in substitution", name)
		}
		b.WriteString(line[:start])
		b.WriteString(v.String())
		line = line[start+end+1:]
	}
}

// importName extracts the module name from the argument of an #import
// directive. Quoted asset paths lose their quotes, item lists and aliases
// are dropped.
func importName(arg string) string {
	arg = strings.TrimSpace(arg)
	if strings.HasPrefix(arg, "\"") {
		if end := strings.IndexByte(arg[1:], '"'); end >= 0 {
			return arg[1 : end+1]
		}
		return ""
	}
	fields := strings.Fields(arg)
	if len(fields) == 0 {
		return ""
	}
	name, _, _ := strings.Cut(fields[0], "::{")
	return name
}

// Metadata scans source for its #define_import_path and every #import
// directive, ignoring conditionals. Quoted imports are reported with their
// quotes so callers can tell asset paths from module names.
func Metadata(source string) (importPath string, imports []string) {
	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		directive, rest, _ := strings.Cut(strings.TrimPrefix(trimmed, "#"), " ")
		if !strings.HasPrefix(trimmed, "#") {
			continue
		}
		rest = strings.TrimSpace(rest)
		switch directive {
		case "define_import_path":
			if fields := strings.Fields(rest); len(fields) > 0 {
				importPath = fields[0]
			}
		case "import":
			name := importName(rest)
			if name == "" {
				continue
			}
			if strings.HasPrefix(rest, "\"") {
				name = "\"" + name + "\""
			}
			imports = append(imports, name)
		}
	}
	return importPath, imports
}
