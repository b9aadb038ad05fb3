package main

import "time"

// Accrue counts the whole intervals between last and now. The returned
// checkpoint is last advanced by exactly those intervals, so the partial
// interval carries over to the next call.
func Accrue(last, now time.Time, interval time.Duration) (int64, time.Time) {
	if interval <= 0 || !now.After(last) {
		return 0, last
	}

	intervals := int64(now.Sub(last) / interval)
	if intervals <= 0 {
		return 0, last
	}
	return intervals, last.Add(time.Duration(intervals) * interval)
}
