package orders

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLocalOrderNumberFormat(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 30, 45, 0, time.UTC)
	pattern := regexp.MustCompile(`^ORD-2026-\d{9}-\d{3}$`)
	for i := 0; i < 20; i++ {
		assert.Regexp(t, pattern, LocalOrderNumber(now))
	}
}
