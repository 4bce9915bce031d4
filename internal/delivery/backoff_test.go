package delivery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffFor_MatchesFixedSchedule(t *testing.T) {
	cases := map[int]time.Duration{
		0: 0,
		1: 60 * time.Second,
		2: 300 * time.Second,
		3: 1800 * time.Second,
		4: 7200 * time.Second,
		5: 7200 * time.Second,
		6: 21600 * time.Second,
		7: 21600 * time.Second,
	}
	for attempt, want := range cases {
		assert.Equal(t, want, backoffFor(attempt), "attempt %d", attempt)
	}
}
