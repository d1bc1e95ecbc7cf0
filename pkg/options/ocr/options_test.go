package ocr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptions_Validate(t *testing.T) {
	o := NewOptions()
	o.Backend = " Gemini "
	require.NoError(t, o.Complete())
	assert.Equal(t, BackendGemini, o.Backend)
	assert.Empty(t, o.Validate())

	o.Backend = "abbyy"
	o.MaxPages = 0
	assert.Len(t, o.Validate(), 2)
}
