package model

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// NewRequestID identifies one solve round trip on the wire.
func NewRequestID() string {
	return uuid.NewString()
}

// NewAssignmentID identifies an assignment within its station.
func NewAssignmentID() string {
	return uuid.NewString()
}

// NextNumericID returns max(id)+1 over items, treating non-numeric ids as absent.
func NextNumericID(items []any, field string) int {
	next := 1
	for _, item := range items {
		m, ok := AsMap(item)
		if !ok {
			continue
		}
		if id, ok := AsInt(m[field]); ok && id >= next {
			next = id + 1
		}
	}
	return next
}

func TaskKey(n int) string {
	return "t-" + strconv.Itoa(n)
}

func AssignmentTaskKey(n int) string {
	return "a-" + strconv.Itoa(n)
}

// NextKeyNumber returns 1 + the highest N among values of field matching "<prefix>N".
func NextKeyNumber(items []any, field, prefix string) int {
	max := 0
	for _, item := range items {
		m, ok := AsMap(item)
		if !ok {
			continue
		}
		s, ok := m[field].(string)
		if !ok || !strings.HasPrefix(s, prefix) {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimPrefix(s, prefix)); err == nil && n > max {
			max = n
		}
	}
	return max + 1
}
