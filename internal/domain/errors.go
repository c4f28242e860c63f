package domain

import "errors"

var (
	ErrNotConnected  = errors.New("repository is not connected")
	ErrConnectFailed = errors.New("repository connect failed")
	ErrEndOfStream   = errors.New("end of stream")
	ErrFeedDisabled  = errors.New("live feed is disabled")
)
