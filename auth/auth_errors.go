package auth

import (
	"errors"

	"github.com/jrsteele09/go-auth-session/apiclient"
	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
)

// Messages shown inline on the login and registration forms.
const (
	MsgInvalidCredentials = "Invalid username or password."
	MsgUserExists         = "An account with that username or email already exists."
	MsgUnreachable        = "We could not reach the server. Please try again."
)

// formMessage turns a login or registration failure into form text.
func formMessage(err error) string {
	var se *apiclient.StatusError
	switch {
	case autherrors.Is(err, autherrors.ErrUnauthorized):
		return MsgInvalidCredentials
	case autherrors.Is(err, autherrors.ErrUserExists):
		return MsgUserExists
	case errors.As(err, &se) && se.Message != "":
		return se.Message
	}
	return MsgUnreachable
}
