package rate

import "errors"

// ErrThrottled is returned when waiting for a trigger slot cannot succeed
// before the caller's deadline.
var ErrThrottled = errors.New("otp trigger throttled")
