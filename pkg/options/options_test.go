package options

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJoin(t *testing.T) {
	assert.Equal(t, "", Join())
	assert.Equal(t, "redis.", Join("redis"))
	assert.Equal(t, "cache.redis.", Join("cache", "redis"))
	assert.Equal(t, "chat.", Join("chat."))
}

func TestFirstEnv(t *testing.T) {
	t.Setenv("CC_TEST_A", "")
	t.Setenv("CC_TEST_B", " b ")
	assert.Equal(t, "b", FirstEnv("CC_TEST_A", "CC_TEST_B"))
	assert.Equal(t, "", FirstEnv("CC_TEST_A"))
}
