package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFirst(t *testing.T) {
	t.Setenv("CHATACCESS_TEST_A", "  ")
	t.Setenv("CHATACCESS_TEST_B", "b")
	t.Setenv("CHATACCESS_TEST_C", "c")

	assert.Equal(t, "b", First("CHATACCESS_TEST_MISSING", "CHATACCESS_TEST_A", "CHATACCESS_TEST_B", "CHATACCESS_TEST_C"))
	assert.Empty(t, First("CHATACCESS_TEST_MISSING"))
	assert.Empty(t, First())
}
