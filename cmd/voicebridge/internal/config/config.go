// Package config loads the voicebridge configuration.
//
// Settings come from a YAML file, then environment variables, then defaults:
//
//	listen: ":3000"
//	log:
//	  format: text
//	volc:
//	  app_key: ...
//	  access_key: ...
//	  voice_type: BV700_V2_streaming
//	llm:
//	  provider: openai
//	  openai:
//	    model: gpt-4.1-mini
//	session:
//	  end_of_utterance_delay: 600ms
//	recording:
//	  dir: ./recordings
//	journal:
//	  dir: ./journal
//
// Without --config, the file is read from os.UserConfigDir()/voicebridge/
// config.yaml when it exists.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/stargazerkiyoshi/realtime-voice/pkg/recording"
	"github.com/stargazerkiyoshi/realtime-voice/pkg/voicechat"
)

const (
	appDir     = "voicebridge"
	configFile = "config.yaml"
)

// Defaults.
const (
	DefaultListen      = ":3000"
	DefaultVoiceType   = "BV700_V2_streaming"
	DefaultSampleRate  = 24000
	DefaultOpenAIModel = "gpt-4.1-mini"
	DefaultGeminiModel = "gemini-2.5-flash"
	DefaultProvider    = ProviderOpenAI
	DefaultLogFormat   = "text"
)

// Language model providers.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderEcho   = "echo"
)

// Config is the voicebridge configuration.
type Config struct {
	// Path is the file the configuration was read from, if any.
	Path string `yaml:"-"`

	Listen    string           `yaml:"listen,omitempty"`
	Log       LogConfig        `yaml:"log,omitempty"`
	Volc      VolcConfig       `yaml:"volc,omitempty"`
	LLM       LLMConfig        `yaml:"llm,omitempty"`
	Session   voicechat.Config `yaml:"session,omitempty"`
	Recording RecordingConfig  `yaml:"recording,omitempty"`
	Journal   JournalConfig    `yaml:"journal,omitempty"`
}

type LogConfig struct {
	// Format is "text" or "json".
	Format string `yaml:"format,omitempty"`
}

// VolcConfig holds the Volcengine speech credentials and endpoints.
type VolcConfig struct {
	AppKey        string `yaml:"app_key,omitempty"`
	AccessKey     string `yaml:"access_key,omitempty"`
	ResourceID    string `yaml:"resource_id,omitempty"`
	TTSResourceID string `yaml:"tts_resource_id,omitempty"`
	ASRURL        string `yaml:"asr_url,omitempty"`
	TTSURL        string `yaml:"tts_url,omitempty"`
	VoiceType     string `yaml:"voice_type,omitempty"`
	SampleRate    int    `yaml:"sample_rate,omitempty"`
}

type LLMConfig struct {
	Provider     string `yaml:"provider,omitempty"`
	SystemPrompt string `yaml:"system_prompt,omitempty"`

	OpenAI OpenAIConfig `yaml:"openai,omitempty"`
	Gemini GeminiConfig `yaml:"gemini,omitempty"`

	// EchoDelay is the per-rune delay of the echo provider.
	EchoDelay time.Duration `yaml:"echo_delay,omitempty"`
}

type OpenAIConfig struct {
	APIKey  string `yaml:"api_key,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`
	Model   string `yaml:"model,omitempty"`
}

type GeminiConfig struct {
	APIKey string `yaml:"api_key,omitempty"`
	Model  string `yaml:"model,omitempty"`
}

// RecordingConfig selects where session audio is stored. S3 wins when a
// bucket is set; otherwise Dir is used; with neither, nothing is recorded.
type RecordingConfig struct {
	Dir string   `yaml:"dir,omitempty"`
	S3  S3Config `yaml:"s3,omitempty"`
}

type S3Config struct {
	Bucket string `yaml:"bucket,omitempty"`
	Prefix string `yaml:"prefix,omitempty"`

	recording.S3Options `yaml:",inline"`
}

// JournalConfig selects the session journal. An empty Dir keeps records in
// memory.
type JournalConfig struct {
	Dir string `yaml:"dir,omitempty"`
}

// DefaultPath returns the default configuration file path.
func DefaultPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine config directory: %w", err)
	}
	return filepath.Join(base, appDir, configFile), nil
}

// Load reads path, overlays the process environment and applies defaults.
// An empty path reads DefaultPath if it exists.
func Load(path string) (*Config, error) {
	return LoadWith(path, os.LookupEnv)
}

// LoadWith is Load with a custom environment lookup.
func LoadWith(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := &Config{}
	explicit := path != ""
	if !explicit {
		if p, err := DefaultPath(); err == nil {
			path = p
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
			cfg.Path = path
		case explicit || !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}
	if err := cfg.overlay(lookup); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) overlay(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("VOLC_APP_KEY", &c.Volc.AppKey)
	str("VOLC_ACCESS_KEY", &c.Volc.AccessKey)
	str("VOLC_RESOURCE_ID", &c.Volc.ResourceID)
	str("VOLC_TTS_RESOURCE_ID", &c.Volc.TTSResourceID)
	str("VOLC_ASR_URL", &c.Volc.ASRURL)
	str("VOLC_TTS_URL", &c.Volc.TTSURL)
	str("VOLC_VOICE_TYPE", &c.Volc.VoiceType)
	integer("VOLC_SAMPLE_RATE", &c.Volc.SampleRate)

	str("LLM_PROVIDER", &c.LLM.Provider)
	str("OPENAI_API_KEY", &c.LLM.OpenAI.APIKey)
	str("OPENAI_BASE_URL", &c.LLM.OpenAI.BaseURL)
	str("OPENAI_MODEL", &c.LLM.OpenAI.Model)
	str("GEMINI_API_KEY", &c.LLM.Gemini.APIKey)
	str("GEMINI_MODEL", &c.LLM.Gemini.Model)

	if v, ok := lookup("PORT"); ok && v != "" {
		c.Listen = ":" + v
	}
	str("VOICE_LISTEN_ADDR", &c.Listen)

	str("RECORDING_DIR", &c.Recording.Dir)
	str("S3_BUCKET", &c.Recording.S3.Bucket)
	str("S3_PREFIX", &c.Recording.S3.Prefix)
	str("S3_REGION", &c.Recording.S3.Region)
	str("S3_ENDPOINT", &c.Recording.S3.Endpoint)
	str("S3_ACCESS_KEY", &c.Recording.S3.AccessKey)
	str("S3_SECRET_KEY", &c.Recording.S3.SecretKey)
	boolean("S3_PATH_STYLE", &c.Recording.S3.PathStyle)

	str("JOURNAL_DIR", &c.Journal.Dir)
	return errors.Join(errs...)
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
	if c.Volc.VoiceType == "" {
		c.Volc.VoiceType = DefaultVoiceType
	}
	if c.Volc.SampleRate == 0 {
		c.Volc.SampleRate = DefaultSampleRate
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = DefaultProvider
	}
	c.LLM.Provider = strings.ToLower(c.LLM.Provider)
	if c.LLM.OpenAI.Model == "" {
		c.LLM.OpenAI.Model = DefaultOpenAIModel
	}
	if c.LLM.Gemini.Model == "" {
		c.LLM.Gemini.Model = DefaultGeminiModel
	}
}

// ValidateSpeech reports missing Volcengine settings.
func (c *Config) ValidateSpeech() error {
	var errs []error
	if c.Volc.AppKey == "" {
		errs = append(errs, errors.New("volc.app_key (VOLC_APP_KEY) is required"))
	}
	if c.Volc.AccessKey == "" {
		errs = append(errs, errors.New("volc.access_key (VOLC_ACCESS_KEY) is required"))
	}
	if c.Volc.SampleRate != 16000 && c.Volc.SampleRate != 24000 {
		errs = append(errs, fmt.Errorf("volc.sample_rate must be 16000 or 24000, got %d", c.Volc.SampleRate))
	}
	return errors.Join(errs...)
}

// ValidateLLM reports missing settings for the chosen provider.
func (c *Config) ValidateLLM() error {
	switch c.LLM.Provider {
	case ProviderOpenAI:
		if c.LLM.OpenAI.APIKey == "" {
			return errors.New("llm.openai.api_key (OPENAI_API_KEY) is required")
		}
	case ProviderGemini:
		if c.LLM.Gemini.APIKey == "" {
			return errors.New("llm.gemini.api_key (GEMINI_API_KEY) is required")
		}
	case ProviderEcho:
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	return nil
}

// Validate checks everything serve needs.
func (c *Config) Validate() error {
	errs := []error{c.ValidateSpeech(), c.ValidateLLM()}
	if f := c.Log.Format; f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", f))
	}
	return errors.Join(errs...)
}
