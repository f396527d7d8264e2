package stealth

import (
	"strings"
	"testing"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestApply(t *testing.T) {
	t.Run("full persona", func(t *testing.T) {
		core, logs := observer.New(zap.DebugLevel)
		tasks := Apply(DefaultPersona, zap.New(core))

		require.Len(t, tasks, 5)
		ua, ok := tasks[0].(*emulation.SetUserAgentOverrideParams)
		require.True(t, ok)
		assert.Equal(t, DefaultPersona.UserAgent, ua.UserAgent)
		assert.Equal(t, "Win32", ua.Platform)

		tz, ok := tasks[2].(*emulation.SetTimezoneOverrideParams)
		require.True(t, ok)
		assert.Equal(t, "America/Los_Angeles", tz.TimezoneID)

		headers, ok := tasks[4].(*network.SetExtraHTTPHeadersParams)
		require.True(t, ok)
		assert.Equal(t, "en-US,en;q=0.9", headers.Headers["Accept-Language"])

		require.Equal(t, 1, logs.Len())
		assert.Equal(t, "Applying browser stealth persona.", logs.All()[0].Message)
	})

	t.Run("empty persona only injects the script", func(t *testing.T) {
		assert.NotPanics(t, func() {
			tasks := Apply(Persona{}, nil)
			assert.Len(t, tasks, 1)
		})
	})
}

func TestScript(t *testing.T) {
	script, err := Script(Persona{Platform: "Linux x86_64", Languages: []string{"he-IL"}})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(script, "window.__sweepPersona = {"))
	assert.Contains(t, script, `"platform":"Linux x86_64"`)
	assert.Contains(t, script, "webdriver")
}

func TestAcceptLanguage(t *testing.T) {
	assert.Equal(t, "", Persona{}.AcceptLanguage())
	assert.Equal(t, "he-IL", Persona{Languages: []string{"he-IL"}}.AcceptLanguage())
	assert.Equal(t, "he-IL,he;q=0.9", Persona{Languages: []string{"he-IL", "he", "en"}}.AcceptLanguage())
}
