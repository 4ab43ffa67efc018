package main

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
)

func TestFlagString(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("addr", ":9090", "")
	assert.NoError(t, fs.Parse([]string{"--addr", ":7070"}))

	assert.Equal(t, ":7070", flagString(fs, "addr", ":9090"))
	assert.Equal(t, "fallback", flagString(fs, "missing", "fallback"))
}
