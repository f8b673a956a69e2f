// Package codec converts between the compact relay bit string reported by a
// device ("10100000", switch 1 first) and sparse 1-based update maps.
package codec

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

const (
	on  = '1'
	off = '0'
)

var (
	ErrIndexOutOfRange = errors.New("relay index out of range")
	ErrInvalidState    = errors.New("invalid relay state")
)

// Decode maps every position of state to its 1-based key.
func Decode(state string) map[string]bool {
	out := make(map[string]bool, len(state))
	for i, c := range []byte(state) {
		out[strconv.Itoa(i+1)] = c == on
	}
	return out
}

// Encode applies updates to current and returns the new state. Every key is
// checked before anything is written, so a bad key never yields a partial update.
func Encode(current string, updates map[string]bool) (string, error) {
	keys := lo.Keys(updates)
	slices.Sort(keys)

	indexes := make(map[string]int, len(keys))
	for _, key := range keys {
		idx, err := Index(key, len(current))
		if err != nil {
			return current, err
		}
		indexes[key] = idx
	}

	state := []byte(current)
	for _, key := range keys {
		if updates[key] {
			state[indexes[key]] = on
		} else {
			state[indexes[key]] = off
		}
	}
	return string(state), nil
}

// Index converts a 1-based key into a 0-based position within a state of the given size.
func Index(key string, size int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(key))
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a switch number", ErrIndexOutOfRange, key)
	}
	idx := n - 1
	if idx < 0 || idx >= size {
		return 0, fmt.Errorf("%w: switch %d of %d", ErrIndexOutOfRange, n, size)
	}
	return idx, nil
}

func Validate(state string) error {
	if state == "" {
		return fmt.Errorf("%w: empty", ErrInvalidState)
	}
	for i, c := range []byte(state) {
		if c != on && c != off {
			return fmt.Errorf("%w: %q at position %d", ErrInvalidState, c, i+1)
		}
	}
	return nil
}

// Off returns an all-off state for n switches.
func Off(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat(string(off), n)
}
