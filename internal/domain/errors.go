package domain

import "errors"

// ErrSessionExpired is reported when the backend has already discarded a session.
var ErrSessionExpired = errors.New("session expired")
