package errno

import (
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestOfUnwraps(t *testing.T) {
	err := errors.Wrap(errors.Wrap(NotFound, "lookup"), "open /x")
	assert.Equal(t, NotFound, Of(err))
	assert.Equal(t, int64(-2), Ret(err))
	assert.True(t, Is(err, NotFound))
	assert.False(t, Is(err, BadAddress))
}

func TestOfForeignError(t *testing.T) {
	assert.Equal(t, IO, Of(io.ErrUnexpectedEOF))
	assert.Equal(t, Success, Of(nil))
	assert.Equal(t, int64(0), Ret(nil))
}

func TestRetRoundTrip(t *testing.T) {
	for e := Success; e < count; e++ {
		assert.Equal(t, e, FromRet(e.Ret()), e.Error())
	}
	assert.Equal(t, Success, FromRet(42))
	assert.Equal(t, "errno 99", Errno(99).Error())
}
