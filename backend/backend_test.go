package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEcosystem(t *testing.T) {
	testCases := []struct {
		in   string
		want Ecosystem
		ok   bool
	}{
		{"cuda", CUDA, true},
		{"CUDA", CUDA, true},
		{"OpenCL", OpenCL, true},
		{"metal", 0, false},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseEcosystem(tc.in)
			if !tc.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestTranslationUnit(t *testing.T) {
	req := CompileRequest{
		Source:           "__global__ void k() {}\n",
		ValuelessDefines: []string{"NDEBUG", "FAST"},
		ValuedDefines:    map[string]string{"BLOCK_SIZE": "256", "EMPTY": ""},
		PreincludeFiles:  []string{"common.h"},
	}
	want := "#define FAST\n" +
		"#define NDEBUG\n" +
		"#define BLOCK_SIZE 256\n" +
		"#define EMPTY \n" +
		"#include \"common.h\"\n" +
		"\n" +
		"__global__ void k() {}\n"
	assert.Equal(t, want, req.TranslationUnit())

	bare := CompileRequest{Source: "x"}
	assert.Equal(t, "x", bare.TranslationUnit())
}

func TestArgumentListLen(t *testing.T) {
	v := int32(1)
	assert.Equal(t, 2, ArgumentList{Pointers: []interface{}{&v, &v, nil}}.Len())
	assert.Equal(t, 2, ArgumentList{Pointers: []interface{}{&v, &v}, Sizes: []uintptr{4, 4}}.Len())
	assert.Equal(t, 0, ArgumentList{}.Len())
}
