package models

import (
	"time"
)

const releaseIDLayout = "20060102150405"

// NewReleaseID returns the id of a release created at t. Ids sort in
// creation order.
func NewReleaseID(t time.Time) string {
	return t.UTC().Format(releaseIDLayout)
}

// ReleaseTime recovers the creation time of a release id produced by
// NewReleaseID. Ids that were set by hand report ok == false.
func ReleaseTime(id string) (t time.Time, ok bool) {
	t, err := time.ParseInLocation(releaseIDLayout, id, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
