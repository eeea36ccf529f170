package email

import "errors"

// ErrDeliveryFailed is returned by transports when the remote side rejects
// a message or cannot be reached.
var ErrDeliveryFailed = errors.New("email delivery failed")
