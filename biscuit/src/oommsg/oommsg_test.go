package oommsg

import "testing"

import "github.com/stretchr/testify/require"

func TestRelieveReturnsFalseWithoutListener(t *testing.T) {
	// runs before TestRelieveSendsRequestAndWaitsForResume, while
	// listening is still unset.
	require.False(t, Relieve(4096))
}

func TestRelieveSendsRequestAndWaitsForResume(t *testing.T) {
	SetListening()

	go func() {
		msg := <-OomCh
		require.Equal(t, 8192, msg.Need)
		msg.Resume <- true
	}()

	require.True(t, Relieve(8192))
}
