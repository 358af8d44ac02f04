// Package storage persists job records and per-user settings.
package storage

import (
	"errors"
	"fetchrelay/types"
	"sort"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// sortOldestFirst orders jobs by creation time, ascending
func sortOldestFirst(jobs []*types.Job) {
	sort.SliceStable(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
	})
}

// sortNewestFirst orders jobs by creation time, descending
func sortNewestFirst(jobs []*types.Job) {
	sort.SliceStable(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})
}
