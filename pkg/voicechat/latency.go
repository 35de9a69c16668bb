package voicechat

import (
	"log/slog"
	"sync"
	"time"
)

type mark int

const (
	markVADEnd mark = iota
	markTranscriptFinal
	markFirstToken
	markFirstAudio
	markFirstPlayback
	numMarks
)

var markNames = [numMarks]string{
	"vad_end",
	"transcript_final",
	"first_token",
	"first_audio",
	"first_playback",
}

// turnLatency records when each stage of one turn first happened. Marks are
// set from the control loop, the assistant task and the playback loop.
type turnLatency struct {
	run uint64

	mu sync.Mutex
	at [numMarks]time.Time
}

func newTurnLatency(run uint64, vadEnd time.Time) *turnLatency {
	l := &turnLatency{run: run}
	l.at[markVADEnd] = vadEnd
	l.at[markTranscriptFinal] = time.Now()
	return l
}

// mark records m unless it is already set.
func (l *turnLatency) mark(m mark) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.at[m].IsZero() {
		l.at[m] = time.Now()
	}
}

// LogValue reports every mark as an offset from the end of speech, or from
// the final transcript when the VAD never saw the end.
func (l *turnLatency) LogValue() slog.Value {
	l.mu.Lock()
	defer l.mu.Unlock()
	base := l.at[markVADEnd]
	if base.IsZero() {
		base = l.at[markTranscriptFinal]
	}
	attrs := make([]slog.Attr, 0, numMarks)
	for m := markTranscriptFinal; m < numMarks; m++ {
		if l.at[m].IsZero() {
			continue
		}
		attrs = append(attrs, slog.Duration(markNames[m], l.at[m].Sub(base)))
	}
	return slog.GroupValue(attrs...)
}
