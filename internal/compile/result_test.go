package compile

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResult_AsError(t *testing.T) {
	assert.NoError(t, Succeeded("ok").AsError())

	boom := fmt.Errorf("boom")
	assert.Same(t, boom, Failed(boom).AsError())

	assert.EqualError(t, Result{Status: Failure}.AsError(), "compile failed")
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "success", Success.String())
	assert.Equal(t, "failure", Failure.String())
}

func TestSucceeded_Files(t *testing.T) {
	r := Succeeded("", "a.css", "b.css")
	assert.True(t, r.OK())
	assert.Equal(t, []string{"a.css", "b.css"}, r.Files)
}
