package clustererr_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/infinidb/clusterd/internal/clustererr"
)

func TestStatus_NilIsOK(t *testing.T) {
	var s *clustererr.Status
	assert.True(t, s.Ok())
	assert.Equal(t, "", s.Error())
}

func TestStatus_OKHelperReturnsNil(t *testing.T) {
	assert.Nil(t, clustererr.OK())
}

func TestStatus_ConstructorsCarryCode(t *testing.T) {
	cases := []struct {
		name string
		s    *clustererr.Status
		code clustererr.Code
	}{
		{"duplicate", clustererr.DuplicateNode("n1"), clustererr.CodeDuplicateNode},
		{"notexist", clustererr.NotExistNode("n1"), clustererr.CodeNotExistNode},
		{"updated", clustererr.NodeInfoUpdated("n1"), clustererr.CodeNodeInfoUpdated},
		{"unexpected", clustererr.UnexpectedError("boom: %d", 1), clustererr.CodeUnexpectedError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.False(t, tc.s.Ok())
			assert.Equal(t, tc.code, tc.s.Code)
			assert.Contains(t, tc.s.Error(), tc.code.String())
		})
	}
}

func TestFromWire_ZeroCodeIsSuccess(t *testing.T) {
	assert.Nil(t, clustererr.FromWire(0, ""))
}

func TestFromWire_NonZeroCodeReconstructsStatus(t *testing.T) {
	s := clustererr.FromWire(int64(clustererr.CodeNotExistNode), "node %q does not exist")
	assert.NotNil(t, s)
	assert.Equal(t, clustererr.CodeNotExistNode, s.Code)
}
