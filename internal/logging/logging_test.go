package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	DisableColor()
}

func TestParseLevel(t *testing.T) {
	for s, want := range map[string]Level{
		"e": Error, "ERROR": Error, "warn": Warn, "I": Info,
		"debug": Debug, "trace": MaxLevel, "5": Level(5), "-2": Error,
	} {
		got, err := ParseLevel(s)
		require.NoError(t, err, s)
		assert.Equal(t, want, got, s)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
	_, err = ParseLevel("10")
	assert.Error(t, err)
}

func TestLevelFiltering(t *testing.T) {
	var out bytes.Buffer
	log := New(&out, Info)

	log.Debug("hidden %d", 1)
	assert.Zero(t, out.Len())

	log.Warn("shown %d", 2)
	line := out.String()
	assert.Contains(t, line, " W/[logging_test.go:")
	assert.True(t, strings.HasSuffix(line, "shown 2\n"))
}

func TestTagDirectives(t *testing.T) {
	saved, savedDefault := tagLevels, defaultLevel
	defer func() {
		tagLevels, defaultLevel = saved, savedDefault
		DefaultLogger.Level = defaultLevel
	}()

	err := Configure("pipeline=debug,caster=e,bogus=x")
	assert.Error(t, err)

	var out bytes.Buffer
	root := New(&out, Info)
	assert.Equal(t, Debug, root.WithTag("pipeline").Level)
	assert.Equal(t, Error, root.WithTag("caster").Level)
	assert.Equal(t, Info, root.WithTag("viewer").Level)

	// Separators are not allowed in tags.
	assert.Equal(t, "a_b_c", root.WithTag("a,b=c").Tag)
}

func TestConfigureRelevelsExistingLoggers(t *testing.T) {
	saved, savedDefault := tagLevels, defaultLevel
	defer func() {
		tagLevels, defaultLevel = saved, savedDefault
		DefaultLogger.Level = defaultLevel
	}()

	l := DefaultLogger.WithTag("relevel")
	assert.NoError(t, Configure("relevel=debug"))
	assert.Equal(t, Debug, l.Level)
}
