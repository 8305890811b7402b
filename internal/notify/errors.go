package notify

import "errors"

var errQueueFull = errors.New("notification queue full")
