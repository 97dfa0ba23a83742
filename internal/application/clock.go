package application

import "time"

// Clock lets services and the pipeline measure time in tests without sleeping
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
