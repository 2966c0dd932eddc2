package runner

import (
	"fmt"
	"unsafe"

	"github.com/notargets/kernelrunner/backend"
	"github.com/notargets/kernelrunner/buffers"
	"github.com/notargets/kernelrunner/kernel"
)

// argSink builds a backend.ArgumentList from a descriptor's pushes. Out and
// inout buffers resolve to the working copy, inputs to the pristine copy.
type argSink struct {
	params  []kernel.Parameter
	inputs  map[string]*buffers.Entry
	outputs map[string]*buffers.Entry
	scalars kernel.ScalarValues
	conv    backend.Convention
	list    backend.ArgumentList
	pushed  map[string]bool
	// next is the index of the parameter the next push must name
	next    int
}

func newArgSink(params []kernel.Parameter, mgr *buffers.Manager, scalars kernel.ScalarValues,
	conv backend.Convention) *argSink {
	return &argSink{
		params:  params,
		inputs:  mgr.Inputs,
		outputs: mgr.Outputs,
		scalars: scalars,
		conv:    conv,
		pushed:  make(map[string]bool, len(params)),
	}
}

func (s *argSink) declared(name string, kind kernel.ParamKind) (kernel.Parameter, error) {
	p, ok := kernel.Find(s.params, name)
	if !ok || p.Kind != kind {
		return p, fmt.Errorf("%s is not a declared %s parameter", name, kind)
	}
	if s.pushed[name] {
		return p, fmt.Errorf("parameter %s marshaled twice", name)
	}
	if want := s.params[s.next].Name; want != name {
		return p, fmt.Errorf("parameter %s marshaled out of declaration order, expected %s", name, want)
	}
	s.pushed[name] = true
	s.next++
	return p, nil
}

func (s *argSink) add(ptr interface{}, size uintptr) {
	s.list.Pointers = append(s.list.Pointers, ptr)
	if s.conv == backend.ExplicitSizes {
		s.list.Sizes = append(s.list.Sizes, size)
	}
}

func (s *argSink) PushBuffer(name string, _ kernel.Direction) error {
	p, err := s.declared(name, kernel.Buffer)
	if err != nil {
		return err
	}
	category, label := s.inputs, "input"
	if p.Direction.Writes() {
		category, label = s.outputs, "output"
	}
	e, ok := category[name]
	if !ok || e.Device == nil {
		return fmt.Errorf("no %s device buffer allocated for %s", label, name)
	}
	s.add(e.Device, unsafe.Sizeof(uintptr(0)))
	return nil
}

func (s *argSink) PushScalar(name string) error {
	if _, err := s.declared(name, kernel.Scalar); err != nil {
		return err
	}
	v, ok := s.scalars[name]
	if !ok {
		return fmt.Errorf("scalar %s has no value", name)
	}
	ptr, size, err := addressOf(v)
	if err != nil {
		return fmt.Errorf("scalar %s: %w", name, err)
	}
	s.add(ptr, size)
	return nil
}

// finish checks every parameter was pushed and terminates the list when the
// convention asks for a sentinel
func (s *argSink) finish() (backend.ArgumentList, error) {
	if len(s.pushed) != len(s.params) {
		for _, p := range s.params {
			if !s.pushed[p.Name] {
				return backend.ArgumentList{}, fmt.Errorf("parameter %s was not marshaled", p.Name)
			}
		}
	}
	if s.conv == backend.Sentinel {
		s.list.Pointers = append(s.list.Pointers, nil)
	}
	return s.list, nil
}

// addressOf copies a typed scalar and returns a pointer to the copy
func addressOf(v interface{}) (interface{}, uintptr, error) {
	switch x := v.(type) {
	case int32:
		return &x, unsafe.Sizeof(x), nil
	case uint32:
		return &x, unsafe.Sizeof(x), nil
	case int64:
		return &x, unsafe.Sizeof(x), nil
	case uint64:
		return &x, unsafe.Sizeof(x), nil
	case float32:
		return &x, unsafe.Sizeof(x), nil
	case float64:
		return &x, unsafe.Sizeof(x), nil
	}
	return nil, 0, fmt.Errorf("unsupported scalar type %T", v)
}
