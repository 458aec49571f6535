package grounddb

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	err := Errorf(ValidationErr, "field %q is required", "title")
	require.Equal(t, `ValidationError: field "title" is required`, err.Error())

	wrapped := Wrap(IoErr, errors.New("disk full"), "write %s", "posts/a.md")
	require.Equal(t, "IoError: write posts/a.md: disk full", wrapped.Error())
	require.ErrorIs(t, wrapped, wrapped.Err)
}

func TestPredicates(t *testing.T) {
	cases := []struct {
		err  error
		pred func(error) bool
	}{
		{Errorf(NotFoundErr, "x"), IsNotFound},
		{Errorf(ValidationErr, "x"), IsValidation},
		{Errorf(PathConflictErr, "x"), IsPathConflict},
		{Errorf(ReferenceErr, "x"), IsReference},
		{Errorf(MigrationRequiredErr, "x"), IsMigrationRequired},
		{Errorf(BusyErr, "x"), IsBusy},
		{Errorf(CancelledErr, "x"), IsCancelled},
	}
	for _, tc := range cases {
		require.True(t, tc.pred(tc.err))
	}
	require.False(t, IsNotFound(errors.New("plain")))
	require.False(t, IsNotFound(Errorf(ValidationErr, "x")))
}

func TestErrCodeStringUnknownFallsBackToInternal(t *testing.T) {
	var c ErrCode = 999
	require.Equal(t, "InternalError", c.String())
}
