package fserrors_test

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lunatic0123/blockfs/fserrors"
)

func TestNewCarriesKindAndErrno(t *testing.T) {
	err := fserrors.New(fserrors.NotFound)
	assert.Equal(t, "not found", err.Error())
	assert.Equal(t, syscall.ENOENT, err.Errno())
}

func TestWithMessageAppendsDetailButKeepsKind(t *testing.T) {
	err := fserrors.New(fserrors.NameTooLong).WithMessage("name %q exceeds limit", "a-very-long-name")
	assert.Equal(t, `name too long: name "a-very-long-name" exceeds limit`, err.Error())
	assert.Equal(t, syscall.ENAMETOOLONG, err.Errno())
	assert.True(t, fserrors.Is(err, fserrors.NameTooLong))
	assert.False(t, fserrors.Is(err, fserrors.NotFound))
}

func TestIsDistinguishesNonFsErrors(t *testing.T) {
	plain := syscall.ENOENT
	assert.False(t, fserrors.Is(plain, fserrors.NotFound))
}

func TestToErrnoMapsKnownKinds(t *testing.T) {
	cases := []struct {
		kind      fserrors.Kind
		wantErrno syscall.Errno
	}{
		{fserrors.NotFound, syscall.ENOENT},
		{fserrors.AlreadyExists, syscall.EEXIST},
		{fserrors.NoSpace, syscall.ENOSPC},
		{fserrors.FileTooLarge, syscall.EFBIG},
		{fserrors.NameTooLong, syscall.ENAMETOOLONG},
		{fserrors.NotEmpty, syscall.ENOTEMPTY},
		{fserrors.IO, syscall.EIO},
		{fserrors.InvalidArgument, syscall.EINVAL},
		{fserrors.NotADirectory, syscall.ENOTDIR},
	}
	for _, c := range cases {
		got := fserrors.ToErrno(fserrors.New(c.kind))
		require.Equal(t, -int(c.wantErrno), got)
	}
}

func TestToErrnoNilIsZero(t *testing.T) {
	assert.Equal(t, 0, fserrors.ToErrno(nil))
}

func TestToErrnoUnrecognizedErrorIsGenericIO(t *testing.T) {
	assert.Equal(t, -int(syscall.EIO), fserrors.ToErrno(assertAnError{}))
}

type assertAnError struct{}

func (assertAnError) Error() string { return "boom" }
