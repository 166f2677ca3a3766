package proxy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundRobin(t *testing.T) {
	list := []string{
		"http://1.1.1.1:8000",
		"http://2.2.2.2:8000",
	}

	m, err := NewManager(list, 0, false)
	require.NoError(t, err)
	require.True(t, m.Enabled())
	assert.False(t, m.SMTPEnabled())

	assert.Equal(t, "1.1.1.1:8000", m.Next().Host)
	assert.Equal(t, "2.2.2.2:8000", m.Next().Host)
	assert.Equal(t, "1.1.1.1:8000", m.Next().Host)
}

func TestEmptyManagerDisabled(t *testing.T) {
	m, err := NewManager(nil, 0, true)
	require.NoError(t, err)

	assert.False(t, m.Enabled())
	assert.Nil(t, m.Next())
}

func TestInvalidProxyRejected(t *testing.T) {
	_, err := NewManager([]string{"://bad"}, 0, false)
	assert.Error(t, err)
}
