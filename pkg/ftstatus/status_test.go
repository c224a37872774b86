package ftstatus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorfRoundTripsKind(t *testing.T) {
	for _, k := range []Kind{Overflow, NoSpace, Proto, Internal, NotConnected, IO} {
		err := Errorf(k, "boom %d", 7)
		got, ok := KindOf(err)
		assert.True(t, ok, k.String())
		assert.Equal(t, k, got)
		assert.True(t, Is(err, k))
		assert.Contains(t, err.Error(), "boom 7")
	}
}

func TestKindOfRejectsForeignErrors(t *testing.T) {
	_, ok := KindOf(errors.New("not from this package"))
	assert.False(t, ok)
}

func TestIsFalseForMismatchedKind(t *testing.T) {
	err := Errorf(Overflow, "x")
	assert.False(t, Is(err, NoSpace))
}
