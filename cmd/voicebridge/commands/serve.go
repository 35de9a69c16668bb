package commands

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stargazerkiyoshi/realtime-voice/pkg/journal"
	"github.com/stargazerkiyoshi/realtime-voice/pkg/speech"
	"github.com/stargazerkiyoshi/realtime-voice/pkg/voicews"
)

const shutdownTimeout = 15 * time.Second

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the realtime voice WebSocket server",
	Long: `Run the realtime voice server.

Endpoints:
  /ws, /ws/voice   WebSocket voice sessions
  /healthz         liveness probe
  /sessions        active sessions and recent journal records (JSON)`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := GetConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if serveListen != "" {
		cfg.Listen = serveListen
	}
	log := logger

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := newSpeechClient(cfg, log)
	tts, err := speech.NewDoubaoTTS(client, ttsConfig(cfg))
	if err != nil {
		return err
	}
	model, err := newLLM(ctx, cfg)
	if err != nil {
		return err
	}
	store, err := openJournal(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()
	recordings, err := openRecordings(cfg)
	if err != nil {
		return err
	}

	deps := &sessionDeps{
		recognizers: speech.NewDoubaoASR(client, asrConfig(cfg)),
		synthesizer: tts,
		model:       model,
		journal:     store,
		recordings:  recordings,
		config:      cfg.Session,
		log:         log,
	}
	ws := voicews.NewHandler(voicews.Options{
		NewSession: deps.newSession,
		Logger:     log,
	})

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           newMux(ws, store, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.Listen, "llm", cfg.LLM.Provider, "voice", cfg.Volc.VoiceType)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down", "active", len(ws.Active()))
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := ws.Shutdown(sctx); err != nil {
		log.Warn("stop sessions", "error", err)
	}
	if err := srv.Shutdown(sctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type sessionsResponse struct {
	Active []string         `json:"active"`
	Recent []journal.Record `json:"recent"`
}

func newMux(ws *voicews.Handler, store journal.Store, log *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /ws", ws)
	mux.Handle("GET /ws/voice", ws)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("GET /sessions", func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				http.Error(w, "bad limit", http.StatusBadRequest)
				return
			}
			limit = n
		}
		recent, err := journal.Collect(r.Context(), store, limit)
		if err != nil {
			log.Warn("list journal", "error", err)
			http.Error(w, "journal unavailable", http.StatusInternalServerError)
			return
		}
		resp := sessionsResponse{Active: ws.Active(), Recent: recent}
		if resp.Recent == nil {
			resp.Recent = []journal.Record{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})
	return mux
}
