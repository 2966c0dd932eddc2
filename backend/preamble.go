package backend

import (
	"fmt"
	"sort"
	"strings"
)

// Preamble renders the request's definitions and pre-includes as source
// text, in a stable order: valueless defines, valued defines, then includes
func (req CompileRequest) Preamble() string {
	var sb strings.Builder

	valueless := append([]string(nil), req.ValuelessDefines...)
	sort.Strings(valueless)
	for _, name := range valueless {
		sb.WriteString(fmt.Sprintf("#define %s\n", name))
	}

	valued := make([]string, 0, len(req.ValuedDefines))
	for name := range req.ValuedDefines {
		valued = append(valued, name)
	}
	sort.Strings(valued)
	for _, name := range valued {
		sb.WriteString(fmt.Sprintf("#define %s %s\n", name, req.ValuedDefines[name]))
	}

	for _, file := range req.PreincludeFiles {
		sb.WriteString(fmt.Sprintf("#include \"%s\"\n", file))
	}
	return sb.String()
}

// TranslationUnit is the preamble followed by the kernel source
func (req CompileRequest) TranslationUnit() string {
	preamble := req.Preamble()
	if preamble == "" {
		return req.Source
	}
	return preamble + "\n" + req.Source
}
