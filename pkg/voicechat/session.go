// Package voicechat runs one full-duplex voice conversation.
//
// A Session listens to the client's microphone audio, segments it with an
// energy VAD, streams each utterance to a speech recognizer, asks a
// language model for a reply and voices the reply chunk by chunk. When the
// user talks over the assistant, the reply is dropped (barge-in) and the
// new utterance is handled as the next turn.
//
// Every state change happens on one control-loop goroutine. The other
// goroutines (recognizer readers, the reply task and the playback loop)
// report back through the session's event queue and tag their output with
// the assistant run that produced it; output of a superseded run is never
// emitted.
package voicechat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/stargazerkiyoshi/realtime-voice/pkg/audio/pcm"
	"github.com/stargazerkiyoshi/realtime-voice/pkg/audio/resampler"
	"github.com/stargazerkiyoshi/realtime-voice/pkg/buffer"
	"github.com/stargazerkiyoshi/realtime-voice/pkg/chunker"
	"github.com/stargazerkiyoshi/realtime-voice/pkg/journal"
	"github.com/stargazerkiyoshi/realtime-voice/pkg/llm"
	"github.com/stargazerkiyoshi/realtime-voice/pkg/playback"
	"github.com/stargazerkiyoshi/realtime-voice/pkg/speech"
	"github.com/stargazerkiyoshi/realtime-voice/pkg/vad"
)

// ErrSessionEnded is returned by calls on a session that has ended.
var ErrSessionEnded = errors.New("voicechat: session ended")

// End reasons chosen by the session itself. Callers of Stop pass their own.
const (
	ReasonStop     = "stop"
	ReasonCanceled = "canceled"
	ReasonError    = "error"
)

// State is the phase of a session.
type State int32

const (
	// StateListening waits for the user to finish an utterance.
	StateListening State = iota
	// StateSpeaking is generating or playing a reply.
	StateSpeaking
	// StateEnded is terminal.
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateSpeaking:
		return "speaking"
	case StateEnded:
		return "ended"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// event is consumed by the control loop.
type event interface {
	sessionEvent()
}

type (
	audioIn struct {
		pcm  []byte
		tsMs int64
	}
	asrResult struct {
		gen        uint64
		transcript speech.Transcript
	}
	asrClosed struct {
		gen     uint64
		err     error
		planned bool
	}
	endUtterance struct {
		gen uint64
	}
	assistantDone struct {
		run  uint64
		text string
		// complete is set when the model stream ran to its end.
		complete bool
		err      error
	}
	endRequest struct {
		reason string
		err    error
	}
)

func (audioIn) sessionEvent()       {}
func (asrResult) sessionEvent()     {}
func (asrClosed) sessionEvent()     {}
func (endUtterance) sessionEvent()  {}
func (assistantDone) sessionEvent() {}
func (endRequest) sessionEvent()    {}

type assistantTask struct {
	run    uint64
	cancel context.CancelFunc
	lat    *turnLatency
}

// Session is one voice conversation.
type Session struct {
	id        string
	cfg       Config
	deps      Deps
	log       *slog.Logger
	outFormat pcm.Format
	startedAt time.Time

	events   *buffer.Queue[event]
	playback *playback.Queue

	// ctx is cancelled when the session ends.
	ctx          context.Context
	cancel       context.CancelFunc
	done         chan struct{}
	playbackDone chan struct{}

	startOnce sync.Once
	started   bool
	stopWatch func() bool

	state  atomic.Int32
	runID  atomic.Uint64
	ttsSeq atomic.Int64
	// emitMu serialises run-scoped emission (tts, assistant, run errors)
	// with changes of runID.
	emitMu  sync.Mutex
	turnLat atomic.Pointer[turnLatency]

	// Owned by the control loop.
	vad         *vad.EnergyVAD
	preRoll     *buffer.Ring[byte]
	history     []llm.Message
	rec         speech.Recognizer
	recGen      uint64
	closing     sync.WaitGroup
	inUtterance bool
	eouTimer    *time.Timer
	eouGen      uint64
	vadEndAt    time.Time
	task        *assistantTask
	audioFrames int
	turns       int
	utterances  int
	bargeIns    int
}

// New creates a session. It does nothing until Start.
func New(cfg Config, deps Deps) (*Session, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}

	out := deps.Synthesizer.Format()
	if cfg.OutputSampleRate > 0 {
		f, err := pcm.FormatForRate(cfg.OutputSampleRate)
		if err != nil {
			return nil, fmt.Errorf("voicechat: output: %w", err)
		}
		out = f
	}
	in := pcm.L16Mono16K
	if cfg.VAD.SampleRate > 0 {
		f, err := pcm.FormatForRate(cfg.VAD.SampleRate)
		if err != nil {
			return nil, fmt.Errorf("voicechat: input: %w", err)
		}
		in = f
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:           cfg.ID,
		cfg:          cfg,
		deps:         deps,
		log:          cfg.Logger.With("session", cfg.ID),
		outFormat:    out,
		startedAt:    time.Now(),
		events:       buffer.NewQueue[event](64),
		playback:     playback.New(),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
		playbackDone: make(chan struct{}),
		vad:          vad.New(cfg.VAD),
	}
	if cfg.PreRoll > 0 {
		s.preRoll = buffer.NewRing[byte](int(in.BytesInDuration(cfg.PreRoll)))
	}
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// State returns the current phase.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	if old := State(s.state.Swap(int32(st))); old != st {
		s.log.Debug("state", "from", old, "to", st)
	}
}

// Done is closed once the session has ended and released its resources.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Start emits ready and starts the session's goroutines. Cancelling ctx
// ends the session with ReasonCanceled.
func (s *Session) Start(ctx context.Context) error {
	first := false
	s.startOnce.Do(func() { first = true })
	if !first {
		if s.State() == StateEnded {
			return ErrSessionEnded
		}
		return errors.New("voicechat: session already started")
	}
	s.started = true
	s.log.Info("session start", "output_rate", s.outFormat.SampleRate())
	s.emit(ReadyEvent{SessionID: s.id})

	s.stopWatch = context.AfterFunc(ctx, func() {
		s.events.Push(endRequest{reason: ReasonCanceled})
	})
	go s.playbackLoop()
	go s.run()
	return nil
}

// Stop ends the session and waits until it has shut down or ctx is done.
func (s *Session) Stop(ctx context.Context, reason string) error {
	if reason == "" {
		reason = ReasonStop
	}
	if s.State() == StateEnded {
		return ErrSessionEnded
	}
	idle := false
	s.startOnce.Do(func() { idle = true })
	if idle {
		s.terminate(reason, nil)
		return nil
	}
	if err := s.events.Push(endRequest{reason: reason}); err != nil {
		return ErrSessionEnded
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FeedAudio queues 16-bit mono PCM from the client. The session takes
// ownership of pcm.
func (s *Session) FeedAudio(pcm []byte, tsMs int64) error {
	if s.State() == StateEnded {
		return ErrSessionEnded
	}
	if err := s.events.Push(audioIn{pcm: pcm, tsMs: tsMs}); err != nil {
		return ErrSessionEnded
	}
	return nil
}

func (s *Session) emit(ev Event) {
	if err := s.deps.Emitter.Emit(ev); err != nil {
		s.log.Debug("emit failed", "type", ev.EventType(), "error", err)
	}
}

// emitIfCurrent emits ev only while run is the current assistant run.
func (s *Session) emitIfCurrent(run uint64, ev Event) bool {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.runID.Load() != run {
		return false
	}
	s.emit(ev)
	return true
}

// nextRun starts a new assistant run. Nothing tagged with an older run is
// emitted once it returns.
func (s *Session) nextRun() uint64 {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	return s.runID.Add(1)
}

func (s *Session) run() {
	reason, cause := s.loop()
	s.terminate(reason, cause)
}

func (s *Session) loop() (string, error) {
	for {
		ev, err := s.events.Next(s.ctx)
		if err != nil {
			return ReasonError, fmt.Errorf("voicechat: event queue: %w", err)
		}
		switch ev := ev.(type) {
		case audioIn:
			s.handleAudio(ev)
		case asrResult:
			s.handleTranscript(ev)
		case asrClosed:
			s.handleRecognizerClosed(ev)
		case endUtterance:
			s.handleEndOfUtterance(ev)
		case assistantDone:
			s.handleAssistantDone(ev)
		case endRequest:
			return ev.reason, ev.err
		}
	}
}

func (s *Session) handleAudio(ev audioIn) {
	s.audioFrames++
	if s.audioFrames%50 == 0 {
		s.log.Debug("audio in", "frames", s.audioFrames, "bytes", len(ev.pcm))
	}
	if s.deps.Recorder != nil {
		if _, err := s.deps.Recorder.Write(ev.pcm); err != nil {
			s.log.Debug("record audio", "error", err)
		}
	}

	for _, e := range s.vad.Process(ev.pcm) {
		switch e {
		case vad.SpeechStart:
			if s.State() == StateSpeaking {
				if s.cfg.DisableBargeIn {
					s.emit(VADEvent{Event: e.String(), TsMs: ev.tsMs})
					continue
				}
				s.bargeIn()
			}
			s.emit(VADEvent{Event: e.String(), TsMs: ev.tsMs})
			s.startUtterance()
		case vad.SpeechEnd:
			s.emit(VADEvent{Event: e.String(), TsMs: ev.tsMs})
			s.vadEndAt = time.Now()
			if s.inUtterance {
				s.scheduleEndOfUtterance()
			}
		}
	}

	if s.inUtterance {
		s.forward(ev.pcm)
	} else if s.preRoll != nil {
		s.preRoll.Write(ev.pcm)
	}
}

// startUtterance begins forwarding audio to a recognizer, preceded by the
// pre-roll. Speech resuming inside the end-of-utterance window continues
// the current utterance.
func (s *Session) startUtterance() {
	s.cancelEndOfUtterance()
	if s.inUtterance {
		return
	}
	s.inUtterance = true
	if s.preRoll != nil {
		if pre := s.preRoll.Drain(); len(pre) > 0 {
			s.forward(pre)
		}
	}
}

func (s *Session) forward(pcm []byte) {
	if s.rec == nil {
		s.recGen++
		s.rec = s.deps.Recognizers.NewRecognizer()
		go s.readRecognizer(s.recGen, s.rec)
		s.log.Debug("recognizer open", "gen", s.recGen)
	}
	if err := s.rec.Feed(pcm); err != nil {
		// The reader reports why the recognizer stopped.
		s.log.Debug("recognizer feed", "gen", s.recGen, "error", err)
		s.rec = nil
	}
}

func (s *Session) readRecognizer(gen uint64, rec speech.Recognizer) {
	var err error
	for t, e := range rec.Recv(s.ctx) {
		if e != nil {
			err = e
			break
		}
		if s.events.Push(asrResult{gen: gen, transcript: t}) != nil {
			return
		}
	}
	s.events.Push(asrClosed{gen: gen, err: err, planned: rec.PlannedClose()})
}

// retireRecognizer detaches the active recognizer and closes it in the
// background. Its final transcript still arrives through the event queue.
func (s *Session) retireRecognizer() {
	rec := s.rec
	if rec == nil {
		return
	}
	s.rec = nil
	rec.PlanClose()
	gen := s.recGen
	s.closing.Add(1)
	go func() {
		defer s.closing.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RecognizerCloseTimeout)
		defer cancel()
		if err := rec.Close(ctx); err != nil {
			s.log.Debug("recognizer close", "gen", gen, "error", err)
		}
	}()
}

func (s *Session) handleRecognizerClosed(ev asrClosed) {
	if ev.gen == s.recGen && s.rec != nil {
		// The active recognizer went away; the next frame opens a new one.
		s.retireRecognizer()
	}
	switch {
	case ev.err == nil, ev.planned, errors.Is(ev.err, context.Canceled):
		s.log.Debug("recognizer closed", "gen", ev.gen, "planned", ev.planned, "error", ev.err)
	default:
		s.log.Warn("recognizer failed", "gen", ev.gen, "error", ev.err)
		s.emit(ErrorEvent{Code: CodeASR, Message: ev.err.Error()})
	}
}

func (s *Session) scheduleEndOfUtterance() {
	s.cancelEndOfUtterance()
	gen := s.eouGen
	s.eouTimer = time.AfterFunc(s.cfg.EndOfUtteranceDelay, func() {
		s.events.Push(endUtterance{gen: gen})
	})
}

// cancelEndOfUtterance stops the pending timer and invalidates a firing
// that is already queued.
func (s *Session) cancelEndOfUtterance() {
	if s.eouTimer != nil {
		s.eouTimer.Stop()
		s.eouTimer = nil
	}
	s.eouGen++
}

func (s *Session) handleEndOfUtterance(ev endUtterance) {
	if ev.gen != s.eouGen || s.vad.InSpeech() {
		return
	}
	s.eouTimer = nil
	s.inUtterance = false
	s.retireRecognizer()
}

func (s *Session) handleTranscript(ev asrResult) {
	t := ev.transcript
	s.emit(ASREvent{
		IsFinal:    t.IsFinal,
		Text:       t.Text,
		Confidence: t.Confidence,
		StartMs:    t.StartMs,
		EndMs:      t.EndMs,
		TsMs:       time.Now().UnixMilli(),
	})
	if !t.IsFinal {
		return
	}
	text := strings.TrimSpace(t.Text)
	if text == "" {
		return
	}
	s.utterances++
	s.log.Info("final transcript", "gen", ev.gen, "text", text)

	if s.task != nil {
		s.log.Info("reply superseded", "run", s.task.run)
		s.interrupt()
	}
	s.history = append(s.history, llm.Message{Role: llm.RoleUser, Content: text})
	s.turns++
	s.startAssistant()
}

func (s *Session) startAssistant() {
	run := s.nextRun()
	lat := newTurnLatency(run, s.vadEndAt)
	s.vadEndAt = time.Time{}
	s.turnLat.Store(lat)
	s.playback.Resume()
	s.setState(StateSpeaking)

	ctx, cancel := context.WithCancel(s.ctx)
	t := &assistantTask{run: run, cancel: cancel, lat: lat}
	s.task = t
	history := slices.Clone(llm.Window(s.history, s.cfg.HistoryTurns))
	go func() {
		text, complete, err := s.reply(ctx, t, history)
		s.events.Push(assistantDone{run: t.run, text: text, complete: complete, err: err})
	}()
}

// reply streams the model's answer through a chunker into assistant events
// and synthesis, then waits until the audio has been played out. complete
// reports whether the model stream finished; a synthesis failure leaves the
// text complete.
func (s *Session) reply(ctx context.Context, t *assistantTask, history []llm.Message) (text string, complete bool, err error) {
	rs, err := resampler.New(s.deps.Synthesizer.Format(), s.outFormat)
	if err != nil {
		s.speechFailed(ctx, t, err)
		return "", false, err
	}
	sp := s.newSpeaker(&frameSink{run: t.run, queue: s.playback, resample: rs, lat: t.lat})
	defer sp.close()

	var (
		chunks   = chunker.New(s.cfg.Chunker)
		said     strings.Builder
		speakErr error
	)
	speak := func(chunk string) {
		if !s.emitIfCurrent(t.run, AssistantEvent{Text: chunk}) {
			return
		}
		said.WriteString(chunk)
		if speakErr != nil {
			return
		}
		if err := sp.say(ctx, chunk); err != nil {
			speakErr = err
			s.speechFailed(ctx, t, err)
		}
	}

	for delta, err := range s.deps.LLM.Stream(ctx, history) {
		if err != nil {
			if ctx.Err() == nil {
				s.log.Warn("language model failed", "run", t.run, "error", err)
				s.emitIfCurrent(t.run, ErrorEvent{Code: CodeLLM, Message: err.Error()})
			}
			return said.String(), false, err
		}
		t.lat.mark(markFirstToken)
		for _, chunk := range chunks.Push(delta) {
			speak(chunk)
		}
	}
	if rest, ok := chunks.Flush(); ok {
		speak(rest)
	}
	if speakErr == nil {
		if err := sp.finish(ctx); err != nil {
			speakErr = err
			s.speechFailed(ctx, t, err)
		}
	}
	if err := s.playback.WaitForDrain(ctx); err != nil {
		return said.String(), true, err
	}
	return said.String(), true, speakErr
}

func (s *Session) speechFailed(ctx context.Context, t *assistantTask, err error) {
	if ctx.Err() != nil {
		return
	}
	s.log.Warn("synthesis failed", "run", t.run, "error", err)
	s.emitIfCurrent(t.run, ErrorEvent{Code: CodeTTS, Message: err.Error()})
}

func (s *Session) handleAssistantDone(ev assistantDone) {
	t := s.task
	if t == nil || t.run != ev.run {
		return
	}
	t.cancel()
	s.task = nil
	// A reply cut off by a model failure stays out of the history.
	if ev.complete && strings.TrimSpace(ev.text) != "" {
		s.history = append(s.history, llm.Message{Role: llm.RoleAssistant, Content: ev.text})
	}
	if ev.err != nil {
		s.log.Warn("reply incomplete", "run", ev.run, "error", ev.err)
	}
	s.log.Info("turn complete", "turn", s.turns, "run", ev.run, "latency", t.lat)
	s.setState(StateListening)
}

// interrupt invalidates the current run, drops its queued audio and cancels
// its task.
func (s *Session) interrupt() {
	s.nextRun()
	s.playback.StopAndClear()
	if s.task != nil {
		s.task.cancel()
		s.task = nil
	}
}

func (s *Session) bargeIn() {
	s.bargeIns++
	s.log.Info("barge-in", "run", s.runID.Load())
	s.interrupt()
	s.emit(BargeInEvent{})
	s.setState(StateListening)
}

func (s *Session) playbackLoop() {
	defer close(s.playbackDone)
	for {
		f, err := s.playback.Get(s.ctx)
		if err != nil {
			return
		}
		s.emitMu.Lock()
		if f.Epoch == s.runID.Load() {
			s.emit(TTSEvent{
				Seq:        int(s.ttsSeq.Add(1)),
				Format:     "pcm16",
				SampleRate: s.outFormat.SampleRate(),
				Payload:    f.Data,
			})
			if lat := s.turnLat.Load(); lat != nil && lat.run == f.Epoch {
				lat.mark(markFirstPlayback)
			}
		}
		s.emitMu.Unlock()
	}
}

// terminate runs once, on the control loop or, for a session that was never
// started, on the caller of Stop.
func (s *Session) terminate(reason string, cause error) {
	s.setState(StateEnded)
	if s.stopWatch != nil {
		s.stopWatch()
	}
	s.cancelEndOfUtterance()
	s.interrupt()
	if cause != nil {
		s.emit(ErrorEvent{Code: CodeSession, Message: cause.Error()})
	}
	s.emit(EndEvent{Reason: reason})

	s.retireRecognizer()
	s.closing.Wait()
	s.cancel()
	s.playback.Close()
	if s.started {
		<-s.playbackDone
	}

	rec := journal.Record{
		ID:         s.id,
		StartedAt:  s.startedAt,
		EndedAt:    time.Now(),
		Reason:     reason,
		Turns:      s.turns,
		Utterances: s.utterances,
		BargeIns:   s.bargeIns,
	}
	if cause != nil {
		rec.Error = cause.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.FinishTimeout)
	defer cancel()
	if s.deps.Recorder != nil {
		loc, err := s.deps.Recorder.Finish(ctx)
		if err != nil {
			s.log.Warn("store recording", "error", err)
		}
		rec.Recording = loc
	}
	if s.deps.Journal != nil {
		if err := s.deps.Journal.Put(ctx, rec); err != nil {
			s.log.Warn("write journal", "error", err)
		}
	}
	s.events.Close()
	s.log.Info("session end",
		"reason", reason,
		"turns", rec.Turns,
		"utterances", rec.Utterances,
		"barge_ins", rec.BargeIns,
		"duration", rec.Duration(),
	)
	close(s.done)
}
