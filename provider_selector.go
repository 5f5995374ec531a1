package voiceagent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/agnivade/voiceagent/metrics"
	"github.com/agnivade/voiceagent/providers"
)

var errNoProviders = errors.New("no speech-to-text provider configured")

// replaySeconds is how much untranscribed audio is kept for a replacement
// provider.
const replaySeconds = 10

// openTranscription opens a session with the first provider, in priority
// order, that accepts one, and returns its index in list. The returned error
// joins every provider's failure.
func openTranscription(ctx context.Context, list []providers.Provider, config providers.SessionConfig, logger zerolog.Logger) (providers.Session, int, error) {
	if len(list) == 0 {
		return nil, -1, errNoProviders
	}

	var errs []error
	for i, provider := range list {
		stream, err := provider.NewSession(ctx, config)
		if err != nil {
			logger.Warn().Err(err).Str("provider", provider.Name()).Msg("Failed to create session for provider")
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		logger.Debug().Str("provider", provider.Name()).Msg("Opened STT session")
		return stream, i, nil
	}
	return nil, -1, errors.Join(errs...)
}

// ProviderSelector is a providers.Session that streams to one provider at a
// time. When the active stream fails mid-session it moves to the next
// provider in priority order and replays the audio sent since the last final
// transcript, so the utterance in progress is not lost.
//
// SendAudio and ReceiveTranscription may be called from different
// goroutines. Close must only be called once both have returned.
type ProviderSelector struct {
	providers []providers.Provider
	config    providers.SessionConfig
	metrics   *metrics.Metrics
	log       zerolog.Logger
	ctx       context.Context

	mu           sync.Mutex
	active       providers.Session
	activeName   string
	cancelActive context.CancelFunc
	next         int // index of the first provider not yet tried
	closedSend   bool
	err          error // set once no provider is left

	// Audio sent since the last final transcript, and the count of final
	// transcripts delivered so far.
	pending      [][]byte
	pendingBytes int
	maxPending   int
	seq          uint64

	// Owned by the ReceiveTranscription caller.
	announced bool
}

// NewProviderSelector opens a session with the first provider in list that
// accepts one. Cancelling ctx ends every session the selector opens.
func NewProviderSelector(ctx context.Context, list []providers.Provider, config providers.SessionConfig, m *metrics.Metrics, logger zerolog.Logger) (*ProviderSelector, error) {
	ps := &ProviderSelector{
		providers:  list,
		config:     config,
		metrics:    m,
		log:        logger,
		ctx:        ctx,
		maxPending: config.SampleRate * 2 * replaySeconds,
	}
	if err := ps.openFrom(0); err != nil {
		return nil, err
	}
	return ps, nil
}

// Active returns the name of the provider currently streaming.
func (ps *ProviderSelector) Active() string {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.activeName
}

// openFrom opens the first provider at or after start. mu must be held, or
// the selector not yet shared.
func (ps *ProviderSelector) openFrom(start int) error {
	if start >= len(ps.providers) && len(ps.providers) > 0 {
		return errors.New("no fallback speech-to-text provider left")
	}
	pctx, cancel := context.WithCancel(ps.ctx)
	stream, i, err := openTranscription(pctx, ps.providers[start:], ps.config, ps.log)
	if err != nil {
		cancel()
		return err
	}
	ps.active = stream
	ps.activeName = ps.providers[start+i].Name()
	ps.cancelActive = cancel
	ps.next = start + i + 1
	return nil
}

func (ps *ProviderSelector) current() providers.Session {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.active
}

// SendAudio forwards audio to the active provider. A send failure moves the
// session to the next provider; the frame is kept for replay.
func (ps *ProviderSelector) SendAudio(audioData []byte) error {
	ps.mu.Lock()
	stream := ps.active
	if stream == nil {
		err := ps.err
		ps.mu.Unlock()
		if err == nil {
			err = io.EOF
		}
		return err
	}
	ps.remember(audioData)
	err := stream.SendAudio(audioData)
	ps.mu.Unlock()

	if err == nil || ps.ctx.Err() != nil {
		return nil
	}
	return ps.failover(stream, err)
}

// remember keeps audioData for replay, dropping the oldest frames past the
// replay window. mu must be held.
func (ps *ProviderSelector) remember(audioData []byte) {
	ps.pending = append(ps.pending, audioData)
	ps.pendingBytes += len(audioData)
	for ps.pendingBytes > ps.maxPending && len(ps.pending) > 1 {
		ps.pendingBytes -= len(ps.pending[0])
		ps.pending = ps.pending[1:]
	}
}

// ReceiveTranscription returns the next event from the active provider. Only
// the first ready event is passed on; a replacement provider's ready is
// swallowed.
func (ps *ProviderSelector) ReceiveTranscription() (providers.TranscriptionResult, error) {
	for {
		stream := ps.current()
		if stream == nil {
			ps.mu.Lock()
			err := ps.err
			ps.mu.Unlock()
			if err == nil {
				err = io.EOF
			}
			return providers.TranscriptionResult{}, err
		}

		result, err := stream.ReceiveTranscription()
		if err == nil {
			if result.Type == providers.ResultReady {
				if ps.announced {
					continue
				}
				ps.announced = true
			}
			if result.Type == providers.ResultTranscript && result.IsFinal {
				ps.mu.Lock()
				ps.seq++
				ps.pending, ps.pendingBytes = nil, 0
				ps.mu.Unlock()
			}
			return result, nil
		}

		if stream != ps.current() {
			// Replaced from the send side; this reader owns the old stream.
			ps.closeRetired(stream)
			continue
		}
		if ps.ctx.Err() != nil {
			return providers.TranscriptionResult{}, io.EOF
		}

		ps.mu.Lock()
		closedSend := ps.closedSend
		ps.mu.Unlock()
		if errors.Is(err, io.EOF) && closedSend {
			return providers.TranscriptionResult{}, io.EOF
		}

		ferr := ps.failover(stream, err)
		ps.closeRetired(stream)
		if ferr != nil {
			return providers.TranscriptionResult{}, ferr
		}
	}
}

// failover replaces failed with the next provider that opens. It is a no-op
// if failed is no longer active.
func (ps *ProviderSelector) failover(failed providers.Session, cause error) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.active != failed {
		return ps.err
	}
	oldName := ps.activeName
	ps.cancelActive()
	ps.active = nil

	if err := ps.openFrom(ps.next); err != nil {
		ps.err = fmt.Errorf("%s stream failed: %w", oldName, errors.Join(cause, err))
		ps.log.Error().Err(ps.err).Msg("No speech-to-text provider left")
		return ps.err
	}

	ps.log.Warn().
		Err(cause).
		Str("from", oldName).
		Str("to", ps.activeName).
		Uint64("afterSeq", ps.seq).
		Int("replayBytes", ps.pendingBytes).
		Msg("Switching speech-to-text provider")
	ps.metrics.RecordSTTFailover(ps.activeName)

	for _, frame := range ps.pending {
		if err := ps.active.SendAudio(frame); err != nil {
			ps.log.Warn().Err(err).Str("provider", ps.activeName).Msg("Replaying audio failed")
			break
		}
	}
	if ps.closedSend {
		if err := ps.active.CloseSend(); err != nil {
			ps.log.Debug().Err(err).Msg("Error closing STT write side")
		}
	}
	return nil
}

func (ps *ProviderSelector) closeRetired(stream providers.Session) {
	if err := stream.Close(); err != nil {
		ps.log.Debug().Err(err).Msg("Error closing replaced STT stream")
	}
}

// CloseSend closes the write side of the active provider. A provider that
// takes over afterwards is closed for sending right after its replay.
func (ps *ProviderSelector) CloseSend() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.closedSend = true
	if ps.active == nil {
		return nil
	}
	return ps.active.CloseSend()
}

// Close ends the active provider session.
func (ps *ProviderSelector) Close() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.active == nil {
		return nil
	}
	ps.cancelActive()
	err := ps.active.Close()
	ps.active = nil
	return err
}
