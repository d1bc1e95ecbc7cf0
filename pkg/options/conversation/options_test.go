package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOptions_Validate(t *testing.T) {
	o := NewOptions()
	if errs := o.Validate(); len(errs) != 0 {
		t.Errorf("默认配置应当合法: %v", errs)
	}

	o.MaxInputChars = o.MaxContextChars
	o.MaxTurns = 1
	assert.Len(t, o.Validate(), 2)
}
