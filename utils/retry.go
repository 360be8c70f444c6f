package utils

import (
	"context"
	"time"
)

// Retry calls cb up to number times, doubling the sleep between
// attempts up to max_sleep. The last error is returned if all
// attempts fail. Permanent errors stop the retry loop immediately.
func RetryWithBackoff(ctx context.Context, clock Clock,
	cb func() error, number int, sleep, max_sleep time.Duration) error {
	var err error
	for i := 0; i < number; i++ {
		err = cb()
		if err == nil {
			return nil
		}

		_, ok := err.(PermanentError)
		if ok {
			return err
		}

		// No need to sleep after the last attempt.
		if i == number-1 {
			break
		}

		select {
		case <-ctx.Done():
			return err
		case <-clock.After(sleep):
		}

		sleep *= 2
		if max_sleep > 0 && sleep > max_sleep {
			sleep = max_sleep
		}
	}
	return err
}

// Wrap an error in this to stop retrying.
type PermanentError struct {
	Err error
}

func (self PermanentError) Error() string {
	return self.Err.Error()
}

func (self PermanentError) Unwrap() error {
	return self.Err
}
