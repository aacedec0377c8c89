package blesvc

import "time"

// backoffSpec is one row of the adaptive retry table (§4.2).
type backoffSpec struct {
	base   time.Duration
	growth time.Duration // added per attempt number; 0 for a fixed delay
}

var backoffTable = map[ErrorClass]backoffSpec{
	ClassOperationInProgress: {base: 3000 * time.Millisecond, growth: 500 * time.Millisecond},
	ClassLinkAborted:         {base: 2000 * time.Millisecond, growth: 1000 * time.Millisecond},
	ClassGenericFailure:      {base: 1500 * time.Millisecond, growth: 500 * time.Millisecond},
	ClassDeviceNotFound:      {base: 4000 * time.Millisecond, growth: 0},
	ClassOther:               {base: 1000 * time.Millisecond, growth: 500 * time.Millisecond},
}

// backoffDelay computes the retry delay for the given error class at the
// given attempt number (1-based, the attempt that just failed). The delay
// grows linearly with attempt except for ClassDeviceNotFound, whose delay
// is fixed.
func backoffDelay(class ErrorClass, attempt int) time.Duration {
	spec := backoffTable[class]
	return spec.base + time.Duration(attempt)*spec.growth
}

// clearsStaleLinkOnRetry reports whether this error class additionally
// triggers a host-level stale-link clear before the next attempt (§4.2:
// "link aborted / abort ... then invoke stale-link clear").
func clearsStaleLinkOnRetry(class ErrorClass) bool {
	return class == ClassLinkAborted
}
