package client

import "github.com/pkg/errors"

var (
	errNoStep              = errors.New("no simulation step registered")
	errUnexpectedHandshake = errors.New("server did not answer join with accept")
)
