package client

import "errors"

var ErrUnknownNotification = errors.New("client: unknown notification id")
