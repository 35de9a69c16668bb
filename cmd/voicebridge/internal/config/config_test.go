package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadWith(writeConfig(t, ""), env(nil))
	if err != nil {
		t.Fatalf("LoadWith error: %v", err)
	}
	if cfg.Listen != DefaultListen {
		t.Errorf("Listen = %q", cfg.Listen)
	}
	if cfg.Volc.VoiceType != DefaultVoiceType || cfg.Volc.SampleRate != DefaultSampleRate {
		t.Errorf("Volc = %+v", cfg.Volc)
	}
	if cfg.LLM.Provider != ProviderOpenAI || cfg.LLM.OpenAI.Model != DefaultOpenAIModel {
		t.Errorf("LLM = %+v", cfg.LLM)
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q", cfg.Log.Format)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
listen: ":8080"
volc:
  app_key: app
  access_key: key
  sample_rate: 16000
llm:
  provider: Echo
  system_prompt: be brief
session:
  history_turns: 4
  disable_barge_in: true
  vad:
    end_silence_ms: 500
  chunker:
    first_min_chars: 6
recording:
  dir: /tmp/rec
  s3:
    bucket: voice
    region: eu-west-1
    path_style: true
`)
	cfg, err := LoadWith(path, env(nil))
	if err != nil {
		t.Fatalf("LoadWith error: %v", err)
	}
	if cfg.Path != path {
		t.Errorf("Path = %q", cfg.Path)
	}
	if cfg.Listen != ":8080" || cfg.Volc.AppKey != "app" || cfg.Volc.SampleRate != 16000 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.LLM.Provider != ProviderEcho || cfg.LLM.SystemPrompt != "be brief" {
		t.Errorf("LLM = %+v", cfg.LLM)
	}
	s := cfg.Session
	if s.HistoryTurns != 4 || !s.DisableBargeIn || s.VAD.EndSilenceMs != 500 || s.Chunker.FirstMinChars != 6 {
		t.Errorf("Session = %+v", s)
	}
	r := cfg.Recording
	if r.Dir != "/tmp/rec" || r.S3.Bucket != "voice" || r.S3.Region != "eu-west-1" || !r.S3.PathStyle {
		t.Errorf("Recording = %+v", r)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "volc:\n  app_key: from-file\n")
	cfg, err := LoadWith(path, env(map[string]string{
		"VOLC_APP_KEY":     "from-env",
		"VOLC_SAMPLE_RATE": "16000",
		"LLM_PROVIDER":     "gemini",
		"GEMINI_API_KEY":   "g",
		"PORT":             "4000",
		"JOURNAL_DIR":      "/var/lib/journal",
		"S3_PATH_STYLE":    "true",
	}))
	if err != nil {
		t.Fatalf("LoadWith error: %v", err)
	}
	if cfg.Volc.AppKey != "from-env" || cfg.Volc.SampleRate != 16000 {
		t.Errorf("Volc = %+v", cfg.Volc)
	}
	if cfg.LLM.Provider != ProviderGemini || cfg.LLM.Gemini.APIKey != "g" || cfg.LLM.Gemini.Model != DefaultGeminiModel {
		t.Errorf("LLM = %+v", cfg.LLM)
	}
	if cfg.Listen != ":4000" {
		t.Errorf("Listen = %q", cfg.Listen)
	}
	if cfg.Journal.Dir != "/var/lib/journal" || !cfg.Recording.S3.PathStyle {
		t.Errorf("cfg = %+v", cfg)
	}

	cfg, err = LoadWith(path, env(map[string]string{"PORT": "4000", "VOICE_LISTEN_ADDR": "127.0.0.1:5000"}))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != "127.0.0.1:5000" {
		t.Errorf("Listen = %q, VOICE_LISTEN_ADDR should win over PORT", cfg.Listen)
	}
}

func TestLoad_BadEnv(t *testing.T) {
	_, err := LoadWith(writeConfig(t, ""), env(map[string]string{"VOLC_SAMPLE_RATE": "fast"}))
	if err == nil || !strings.Contains(err.Error(), "VOLC_SAMPLE_RATE") {
		t.Fatalf("err = %v, want VOLC_SAMPLE_RATE error", err)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := LoadWith(filepath.Join(t.TempDir(), "nope.yaml"), env(nil)); err == nil {
		t.Fatal("expected error for a missing --config file")
	}
}

func TestLoad_Durations(t *testing.T) {
	cfg, err := LoadWith(writeConfig(t, "session:\n  end_of_utterance_delay: 800ms\nllm:\n  echo_delay: 5ms\n"), env(nil))
	if err != nil {
		t.Fatalf("LoadWith error: %v", err)
	}
	if cfg.Session.EndOfUtteranceDelay != 800*time.Millisecond || cfg.LLM.EchoDelay != 5*time.Millisecond {
		t.Errorf("durations = %v, %v", cfg.Session.EndOfUtteranceDelay, cfg.LLM.EchoDelay)
	}
}

func TestValidate(t *testing.T) {
	cfg, err := LoadWith(writeConfig(t, ""), env(nil))
	if err != nil {
		t.Fatal(err)
	}
	err = cfg.Validate()
	if err == nil {
		t.Fatal("Validate should fail without credentials")
	}
	for _, want := range []string{"VOLC_APP_KEY", "VOLC_ACCESS_KEY", "OPENAI_API_KEY"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}

	cfg.LLM.Provider = "mystery"
	if err := cfg.ValidateLLM(); err == nil {
		t.Error("unknown provider should fail")
	}
	cfg.LLM.Provider = ProviderEcho
	if err := cfg.ValidateLLM(); err != nil {
		t.Errorf("echo needs no key: %v", err)
	}
}
