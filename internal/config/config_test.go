package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
sip:
  server: sip.example.com
  user: bridge
ai:
  ws_url: wss://realtime.example.com/v1
`

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, defaultSIPBindPort, cfg.SIP.BindPort)
	assert.Equal(t, "udp", cfg.SIP.Transport)
	assert.Equal(t, int64(defaultMaxActiveCall), cfg.SIP.MaxActiveCalls)
	assert.Equal(t, "edge", cfg.AI.Mode)
	assert.Equal(t, defaultAISampleRate, cfg.AI.SampleRate)
	assert.Equal(t, 20*time.Millisecond, cfg.Audio.FrameDuration)
	assert.True(t, cfg.Audio.EnableDTMF, "dtmf_enabled default must be true when absent from yaml")
	assert.True(t, cfg.NAT.RebindOnSourceChange)
	assert.Empty(t, cfg.Notify.WebhookURL)
	assert.Equal(t, "sip.example.com", cfg.SIP.Server)
	assert.Equal(t, "bridge", cfg.SIP.User)
}

func TestParseExplicitFalseOverridesDefault(t *testing.T) {
	yaml := `
sip:
  server: sip.example.com
  user: bridge
ai:
  ws_url: wss://realtime.example.com/v1
audio:
  dtmf_enabled: false
nat:
  rebind_on_source_change: false
`
	cfg, err := Parse([]byte(yaml))
	require.NoError(t, err)
	assert.False(t, cfg.Audio.EnableDTMF)
	assert.False(t, cfg.NAT.RebindOnSourceChange)
}

func TestParseMissingAIURL(t *testing.T) {
	_, err := Parse([]byte("sip:\n  server: sip.example.com\n  user: bridge\n  bind_port: 5060\n"))
	assert.Error(t, err)
}

func TestParseMissingSIPServer(t *testing.T) {
	_, err := Parse([]byte("sip:\n  user: bridge\nai:\n  ws_url: wss://realtime.example.com/v1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sip.server")
}

func TestParseMissingSIPUser(t *testing.T) {
	_, err := Parse([]byte("sip:\n  server: sip.example.com\nai:\n  ws_url: wss://realtime.example.com/v1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sip.user")
}

func TestParseNoSIPSectionAtAllFailsOnServer(t *testing.T) {
	_, err := Parse([]byte("ai:\n  ws_url: wss://realtime.example.com/v1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sip.server")
}

func TestParseInvalidWSScheme(t *testing.T) {
	_, err := Parse([]byte(`
sip:
  server: sip.example.com
  user: bridge
ai:
  ws_url: "http://example.com"
`))
	assert.Error(t, err)
}

func TestParseDirectModeRequiresAPIKey(t *testing.T) {
	_, err := Parse([]byte(`
sip:
  server: sip.example.com
  user: bridge
ai:
  ws_url: wss://realtime.example.com/v1
  mode: direct
`))
	assert.Error(t, err)

	cfg, err := Parse([]byte(`
sip:
  server: sip.example.com
  user: bridge
ai:
  ws_url: wss://realtime.example.com/v1
  mode: direct
  api_key: sk-test
`))
	require.NoError(t, err)
	assert.Equal(t, "direct", cfg.AI.Mode)
}

func TestParseInvalidMode(t *testing.T) {
	_, err := Parse([]byte(`
sip:
  server: sip.example.com
  user: bridge
ai:
  ws_url: wss://realtime.example.com/v1
  mode: bogus
`))
	assert.Error(t, err)
}

func TestParseInvalidTransport(t *testing.T) {
	_, err := Parse([]byte(`
sip:
  server: sip.example.com
  user: bridge
  transport: sctp
ai:
  ws_url: wss://realtime.example.com/v1
`))
	assert.Error(t, err)
}

func TestParseSIPAuthRequiresBothFields(t *testing.T) {
	_, err := Parse([]byte(`
sip:
  server: sip.example.com
  user: bridge
  auth_user: alice
ai:
  ws_url: wss://realtime.example.com/v1
`))
	assert.Error(t, err)

	cfg, err := Parse([]byte(`
sip:
  server: sip.example.com
  user: bridge
  auth_user: alice
  auth_password: secret
ai:
  ws_url: wss://realtime.example.com/v1
`))
	require.NoError(t, err)
	assert.Equal(t, "alice", cfg.SIP.AuthUser)
	assert.Equal(t, "secret", cfg.SIP.Password)
}

func TestParseBindPortOutOfRange(t *testing.T) {
	_, err := Parse([]byte(`
sip:
  server: sip.example.com
  user: bridge
  bind_port: 99999
ai:
  ws_url: wss://realtime.example.com/v1
`))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestAIConfigSampleRateOrDefault(t *testing.T) {
	a := AIConfig{}
	assert.Equal(t, defaultAISampleRate, a.SampleRateOrDefault())
	a.SampleRate = 24000
	assert.Equal(t, 24000, a.SampleRateOrDefault())
}
