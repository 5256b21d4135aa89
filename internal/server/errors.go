package server

import "github.com/pkg/errors"

var errNoStep = errors.New("no simulation step registered")
