package dispatcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCategoryTimeout_SlowOpcodesGetLongerBudget(t *testing.T) {
	t.Parallel()
	assert.Equal(t, SlowOpTimeout, categoryTimeout(OpCommand))
	assert.Equal(t, SlowOpTimeout, categoryTimeout(OpTxCommit))
	assert.Equal(t, FastOpTimeout, categoryTimeout(OpRecordLoad))
}

func TestCommandTimeout_ClampsToConfiguredMaximum(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 2*time.Second, commandTimeout(OpTxCommit, 2*time.Second))
	assert.Equal(t, 2*time.Second, commandTimeout(OpRecordLoad, 2*time.Second))
}

func TestCommandTimeout_ZeroMaxDisablesClamping(t *testing.T) {
	t.Parallel()
	assert.Equal(t, SlowOpTimeout, commandTimeout(OpCommand, 0))
}
