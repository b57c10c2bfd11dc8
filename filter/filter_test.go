package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithoutPatterns(t *testing.T) {
	f, err := New(Options{})
	require.NoError(t, err)
	assert.Nil(t, f, "no patterns means no filter")
}

func TestNewRejectsMixedModes(t *testing.T) {
	_, err := New(Options{
		IncludeHeader: []string{"Subject:"},
		ExcludeBody:   []string{"spam"},
	})
	require.Error(t, err)
}

func TestNewRejectsBadPattern(t *testing.T) {
	_, err := New(Options{IncludeHeader: []string{"("}})
	require.Error(t, err)
}

func TestAllowsIncludeMode(t *testing.T) {
	f, err := New(Options{IncludeHeader: []string{"Subject: Test"}})
	require.NoError(t, err)

	matching := []byte("Subject: Test Message\r\nFrom: sender@example.com\r\n\r\nbody")
	other := []byte("Subject: Other\r\nFrom: sender@example.com\r\n\r\nbody")

	assert.True(t, f.Allows(matching))
	assert.False(t, f.Allows(other))
}

func TestAllowsIncludeBodyMode(t *testing.T) {
	f, err := New(Options{IncludeBody: []string{"invoice"}})
	require.NoError(t, err)

	assert.True(t, f.Allows([]byte("Subject: x\r\n\r\nyour invoice is attached")))
	assert.False(t, f.Allows([]byte("Subject: invoice\r\n\r\nnothing relevant")), "body pattern must not match headers")
}

func TestAllowsExcludeMode(t *testing.T) {
	f, err := New(Options{ExcludeHeader: []string{"spam"}})
	require.NoError(t, err)

	assert.True(t, f.Allows([]byte("Subject: Normal\r\n\r\nbody")))
	assert.False(t, f.Allows([]byte("Subject: spam offer\r\n\r\nbody")))
}

func TestSplitMessage(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		header string
		body   string
	}{
		{"crlf separator", "A: 1\r\nB: 2\r\n\r\nbody text", "A: 1\r\nB: 2", "body text"},
		{"lf separator", "A: 1\n\nbody", "A: 1", "body"},
		{"no body", "A: 1\r\nB: 2", "A: 1\r\nB: 2", ""},
		{"empty", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header, body := SplitMessage([]byte(tt.raw))
			assert.Equal(t, tt.header, string(header))
			assert.Equal(t, tt.body, string(body))
		})
	}
}
