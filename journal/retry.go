package journal

import "time"

type Retry struct {
	sleepDuration time.Duration
	RetryFunc     func() error
	numTries      int
}

func NewRetry(numTries int, sleepDuration time.Duration, retryFunc func() error) *Retry {
	return &Retry{
		sleepDuration: sleepDuration,
		RetryFunc:     retryFunc,
		numTries:      numTries,
	}
}

// Do calls RetryFunc until it succeeds or numTries is used up, and returns
// the last error.
func (r *Retry) Do() (err error) {
	for i := 0; i < r.numTries; i++ {
		if err = r.RetryFunc(); err == nil {
			return nil
		}

		if i < r.numTries-1 {
			time.Sleep(r.sleepDuration)
		}
	}

	return err
}
