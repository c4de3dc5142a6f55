// Package config loads and validates the bridge's YAML configuration,
// adapted from the teacher's bridge.LoadConfig: same flat-struct-built-
// from-nested-yaml-struct shape, same "zero value means use the
// default, explicit mismatch is a hard error" validation style.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultSIPBindPort   = 5060
	defaultTransport     = "udp"
	defaultSampleRate    = 8000
	defaultAISampleRate  = 16000
	defaultFrameMs       = 20
	defaultMaxActiveCall = 50
)

// Config is the bridge's fully-resolved runtime configuration.
type Config struct {
	SIP    SIPConfig
	AI     AIConfig
	Audio  AudioConfig
	NAT    NATConfig
	Notify NotifyConfig
}

type SIPConfig struct {
	Server         string
	User           string
	BindPort       int
	Transport      string
	ExternalIP     string
	AuthUser       string
	Password       string
	AuthRealm      string
	MaxActiveCalls int64
}

type AIConfig struct {
	WSURL        string // ws:// or wss://
	Mode         string // "edge" or "direct"
	APIKey       string // required when Mode == "direct"
	Model        string
	Voice        string
	SystemPrompt string
	SampleRate   int // Hz, the AI endpoint's PCM16 sample rate
}

// SampleRateOrDefault returns the configured AI sample rate, or
// defaultAISampleRate if unset.
func (a AIConfig) SampleRateOrDefault() int {
	if a.SampleRate > 0 {
		return a.SampleRate
	}
	return defaultAISampleRate
}

type AudioConfig struct {
	FrameDuration time.Duration
	EnableDTMF    bool
}

type NATConfig struct {
	RebindOnSourceChange bool
}

// NotifyConfig configures the optional call-lifecycle webhook. An empty
// WebhookURL disables notifications entirely.
type NotifyConfig struct {
	WebhookURL string
}

type yamlConfig struct {
	SIP struct {
		Server         string `yaml:"server"`
		User           string `yaml:"user"`
		BindPort       int    `yaml:"bind_port"`
		Transport      string `yaml:"transport"`
		ExternalIP     string `yaml:"external_ip"`
		AuthUser       string `yaml:"auth_user"`
		AuthPassword   string `yaml:"auth_password"`
		AuthRealm      string `yaml:"auth_realm"`
		MaxActiveCalls int64  `yaml:"max_active_calls"`
	} `yaml:"sip"`
	AI struct {
		WSURL        string `yaml:"ws_url"`
		Mode         string `yaml:"mode"`
		APIKey       string `yaml:"api_key"`
		Model        string `yaml:"model"`
		Voice        string `yaml:"voice"`
		SystemPrompt string `yaml:"system_prompt"`
		SampleRate   int    `yaml:"sample_rate"`
	} `yaml:"ai"`
	Audio struct {
		FrameMs     int   `yaml:"frame_ms"`
		DTMFEnabled *bool `yaml:"dtmf_enabled"`
	} `yaml:"audio"`
	NAT struct {
		RebindOnSourceChange *bool `yaml:"rebind_on_source_change"`
	} `yaml:"nat"`
	Notify struct {
		WebhookURL string `yaml:"webhook_url"`
	} `yaml:"notify"`
}

// Load reads and validates the YAML config file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: failed to read file: %w", err)
	}
	return Parse(data)
}

// Parse validates and builds a Config from raw YAML bytes, separated
// from Load so tests can exercise validation without touching disk.
func Parse(data []byte) (Config, error) {
	cfg := Config{
		SIP: SIPConfig{
			BindPort:       defaultSIPBindPort,
			Transport:      defaultTransport,
			MaxActiveCalls: defaultMaxActiveCall,
		},
		AI: AIConfig{
			Mode:       "edge",
			SampleRate: defaultAISampleRate,
		},
		Audio: AudioConfig{
			FrameDuration: defaultFrameMs * time.Millisecond,
			EnableDTMF:    true,
		},
		NAT: NATConfig{RebindOnSourceChange: true},
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("config: failed to parse yaml: %w", err)
	}

	if err := applySIP(&cfg, yc); err != nil {
		return Config{}, err
	}
	if err := applyAI(&cfg, yc); err != nil {
		return Config{}, err
	}
	applyAudio(&cfg, yc)
	applyNAT(&cfg, yc)
	applyNotify(&cfg, yc)

	return cfg, nil
}

func applySIP(cfg *Config, yc yamlConfig) error {
	if yc.SIP.Server == "" {
		return errors.New("config: sip.server is required")
	}
	cfg.SIP.Server = yc.SIP.Server

	if yc.SIP.User == "" {
		return errors.New("config: sip.user is required")
	}
	cfg.SIP.User = yc.SIP.User

	if yc.SIP.BindPort > 0 {
		if yc.SIP.BindPort > 65535 {
			return fmt.Errorf("config: sip.bind_port out of range: %d", yc.SIP.BindPort)
		}
		cfg.SIP.BindPort = yc.SIP.BindPort
	}
	if yc.SIP.Transport != "" {
		cfg.SIP.Transport = strings.ToLower(yc.SIP.Transport)
	}
	if cfg.SIP.Transport != "udp" && cfg.SIP.Transport != "tcp" {
		return fmt.Errorf("config: sip.transport must be 'udp' or 'tcp', got %q", cfg.SIP.Transport)
	}
	cfg.SIP.ExternalIP = yc.SIP.ExternalIP
	cfg.SIP.AuthUser = yc.SIP.AuthUser
	cfg.SIP.Password = yc.SIP.AuthPassword
	if (cfg.SIP.AuthUser == "") != (cfg.SIP.Password == "") {
		return errors.New("config: sip.auth_user and sip.auth_password must be set together")
	}
	cfg.SIP.AuthRealm = yc.SIP.AuthRealm
	if yc.SIP.MaxActiveCalls > 0 {
		cfg.SIP.MaxActiveCalls = yc.SIP.MaxActiveCalls
	}
	return nil
}

func applyAI(cfg *Config, yc yamlConfig) error {
	if yc.AI.WSURL == "" {
		return errors.New("config: ai.ws_url is required")
	}
	parsed, err := url.Parse(yc.AI.WSURL)
	if err != nil {
		return fmt.Errorf("config: invalid ai.ws_url: %w", err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return fmt.Errorf("config: ai.ws_url must use ws:// or wss://, got %q", parsed.Scheme)
	}
	cfg.AI.WSURL = yc.AI.WSURL

	if yc.AI.Mode != "" {
		cfg.AI.Mode = strings.ToLower(yc.AI.Mode)
	}
	if cfg.AI.Mode != "edge" && cfg.AI.Mode != "direct" {
		return fmt.Errorf("config: ai.mode must be 'edge' or 'direct', got %q", cfg.AI.Mode)
	}
	cfg.AI.APIKey = yc.AI.APIKey
	if cfg.AI.Mode == "direct" && cfg.AI.APIKey == "" {
		return errors.New("config: ai.api_key is required when ai.mode is 'direct'")
	}
	cfg.AI.Model = yc.AI.Model
	cfg.AI.Voice = yc.AI.Voice
	cfg.AI.SystemPrompt = yc.AI.SystemPrompt
	if yc.AI.SampleRate > 0 {
		cfg.AI.SampleRate = yc.AI.SampleRate
	}
	return nil
}

func applyAudio(cfg *Config, yc yamlConfig) {
	if yc.Audio.FrameMs > 0 {
		cfg.Audio.FrameDuration = time.Duration(yc.Audio.FrameMs) * time.Millisecond
	}
	if yc.Audio.DTMFEnabled != nil {
		cfg.Audio.EnableDTMF = *yc.Audio.DTMFEnabled
	}
}

func applyNAT(cfg *Config, yc yamlConfig) {
	if yc.NAT.RebindOnSourceChange != nil {
		cfg.NAT.RebindOnSourceChange = *yc.NAT.RebindOnSourceChange
	}
}

func applyNotify(cfg *Config, yc yamlConfig) {
	cfg.Notify.WebhookURL = yc.Notify.WebhookURL
}
