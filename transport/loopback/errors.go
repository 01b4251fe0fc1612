package loopback

import "errors"

var errClosed = errors.New("loopback: channel closed")
