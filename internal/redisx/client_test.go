package redisx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewSetsCommandTimeouts(t *testing.T) {
	r := New("127.0.0.1:6379")
	defer r.Close()

	opts := r.Options()
	require.Equal(t, "127.0.0.1:6379", opts.Addr)
	require.Equal(t, 2*time.Second, opts.ReadTimeout)
	require.Equal(t, 2*time.Second, opts.WriteTimeout)
}
