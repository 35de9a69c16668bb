package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stargazerkiyoshi/realtime-voice/cmd/voicebridge/internal/config"
	"github.com/stargazerkiyoshi/realtime-voice/pkg/audio/pcm"
	"github.com/stargazerkiyoshi/realtime-voice/pkg/journal"
	"github.com/stargazerkiyoshi/realtime-voice/pkg/voicechat"
	"github.com/stargazerkiyoshi/realtime-voice/pkg/voicews"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testServer(t *testing.T, store journal.Store) *httptest.Server {
	t.Helper()
	ws := voicews.NewHandler(voicews.Options{
		NewSession: func(voicews.SessionRequest, voicechat.Emitter) (*voicechat.Session, error) {
			t.Error("unexpected session")
			return nil, io.EOF
		},
		Logger: quiet(),
	})
	srv := httptest.NewServer(newMux(ws, store, quiet()))
	t.Cleanup(srv.Close)
	return srv
}

func putRecords(t *testing.T, store journal.Store) {
	t.Helper()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "new"} {
		err := store.Put(context.Background(), journal.Record{
			ID:        id,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
			EndedAt:   base.Add(time.Duration(i)*time.Minute + 30*time.Second),
			Reason:    "ws_closed",
			Turns:     i + 1,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
}

func TestMux_Healthz(t *testing.T) {
	srv := testServer(t, journal.NewMemory())
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "ok\n" {
		t.Fatalf("healthz = %d %q", resp.StatusCode, body)
	}
}

func TestMux_Sessions(t *testing.T) {
	store := journal.NewMemory()
	putRecords(t, store)
	srv := testServer(t, store)

	resp, err := http.Get(srv.URL + "/sessions")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var got sessionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got.Active) != 0 || len(got.Recent) != 2 || got.Recent[0].ID != "new" {
		t.Fatalf("sessions = %+v", got)
	}

	resp, err = http.Get(srv.URL + "/sessions?limit=x")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", resp.StatusCode)
	}
}

func TestFetchSessions(t *testing.T) {
	store := journal.NewMemory()
	putRecords(t, store)
	srv := testServer(t, store)

	got, err := fetchSessions(context.Background(), srv.URL+"/", 1)
	if err != nil {
		t.Fatalf("fetchSessions: %v", err)
	}
	if len(got.Recent) != 1 || got.Recent[0].ID != "new" || got.Recent[0].Turns != 2 {
		t.Fatalf("recent = %+v", got.Recent)
	}
}

func TestRecordListRows(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := recordList{{
		ID:        "s-1",
		StartedAt: start,
		EndedAt:   start.Add(90 * time.Second),
		Reason:    "error",
		Error:     "boom",
		Turns:     3,
		BargeIns:  1,
	}}.TableRows()
	if len(rows) != 1 {
		t.Fatalf("rows = %v", rows)
	}
	r := rows[0]
	if r[0] != "s-1" || r[2] != "1m30.0s" || r[3] != "error (boom)" || r[4] != "3" || r[6] != "1" {
		t.Fatalf("row = %q", r)
	}
	if len(r) != len(recordList{}.TableHeader()) {
		t.Fatalf("row has %d cells, header %d", len(r), len(recordList{}.TableHeader()))
	}
}

func TestLoadPCM(t *testing.T) {
	dir := t.TempDir()
	samples := make([]byte, 3200)
	samples[0] = 7

	wav := filepath.Join(dir, "a.wav")
	if err := os.WriteFile(wav, pcm.EncodeWAV(pcm.L16Mono16K, samples), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := loadPCM(wav)
	if err != nil || !bytes.Equal(got, samples) {
		t.Fatalf("loadPCM(wav) = %d bytes, %v", len(got), err)
	}

	raw := filepath.Join(dir, "a.pcm")
	if err := os.WriteFile(raw, samples, 0644); err != nil {
		t.Fatal(err)
	}
	if got, err := loadPCM(raw); err != nil || len(got) != len(samples) {
		t.Fatalf("loadPCM(pcm) = %d bytes, %v", len(got), err)
	}

	wrongRate := filepath.Join(dir, "b.wav")
	if err := os.WriteFile(wrongRate, pcm.EncodeWAV(pcm.L16Mono24K, samples), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadPCM(wrongRate); err == nil || !strings.Contains(err.Error(), "rate=24000") {
		t.Fatalf("loadPCM(24k wav) err = %v", err)
	}

	odd := filepath.Join(dir, "odd.pcm")
	if err := os.WriteFile(odd, []byte{1, 2, 3}, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadPCM(odd); err == nil {
		t.Fatal("odd-length PCM should fail")
	}
}

func TestEncodeAudio(t *testing.T) {
	samples := make([]byte, int(pcm.L16Mono24K.BytesInDuration(100*time.Millisecond)))

	raw, err := encodeAudio(samples, pcm.L16Mono24K, pcm.L16Mono24K, false)
	if err != nil || !bytes.Equal(raw, samples) {
		t.Fatalf("passthrough = %d bytes, %v", len(raw), err)
	}

	wav, err := encodeAudio(samples, pcm.L16Mono24K, pcm.L16Mono24K, true)
	if err != nil {
		t.Fatal(err)
	}
	h, data, err := pcm.DecodeWAV(bytes.NewReader(wav))
	if err != nil || h.SampleRate != 24000 || len(data) != len(samples) {
		t.Fatalf("wav header %+v, %d bytes, %v", h, len(data), err)
	}

	down, err := encodeAudio(samples, pcm.L16Mono24K, pcm.L16Mono16K, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(down) == 0 || len(down) >= len(samples) || len(down)%2 != 0 {
		t.Fatalf("resampled to %d bytes from %d", len(down), len(samples))
	}
}

func TestNewLLM(t *testing.T) {
	cfg := &config.Config{}
	cfg.LLM.Provider = config.ProviderEcho
	if _, err := newLLM(context.Background(), cfg); err != nil {
		t.Fatalf("echo: %v", err)
	}
	cfg.LLM.Provider = config.ProviderOpenAI
	cfg.LLM.OpenAI.APIKey = "sk-test"
	if _, err := newLLM(context.Background(), cfg); err != nil {
		t.Fatalf("openai: %v", err)
	}
	cfg.LLM.Provider = "nope"
	if _, err := newLLM(context.Background(), cfg); err == nil {
		t.Fatal("unknown provider should fail")
	}
}

func TestOpenRecordings(t *testing.T) {
	cfg := &config.Config{}
	if s, err := openRecordings(cfg); err != nil || s != nil {
		t.Fatalf("no recording configured = %v, %v", s, err)
	}
	cfg.Recording.Dir = t.TempDir()
	if s, err := openRecordings(cfg); err != nil || s == nil {
		t.Fatalf("local = %v, %v", s, err)
	}
	cfg.Recording.S3.Bucket = "voice"
	s, err := openRecordings(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if got := s.Location("x.wav"); got != "s3://voice/x.wav" {
		t.Fatalf("Location = %q", got)
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	if err := Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.HasPrefix(out.String(), "voicebridge dev") {
		t.Fatalf("version output = %q", out.String())
	}
}
