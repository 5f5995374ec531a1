package voiceagent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/agnivade/voiceagent/metrics"
	"github.com/agnivade/voiceagent/protocol"
	"github.com/agnivade/voiceagent/providers"
	"github.com/agnivade/voiceagent/session"
)

// transcriptionRelay pumps client audio to the STT stream and STT events
// back into the scheduler until either side stops.
type transcriptionRelay struct {
	client    *clientConn
	stream    providers.Session
	sess      *session.Session
	scheduler *TurnScheduler
	metrics   *metrics.Metrics
	log       zerolog.Logger

	// cancel must cancel the context the stream was opened with, so that a
	// blocked ReceiveTranscription returns.
	cancel context.CancelFunc
}

// Run blocks until both loops have exited and then closes the stream.
func (r *transcriptionRelay) Run(ctx context.Context) error {
	var g errgroup.Group

	g.Go(func() error {
		defer r.cancel()
		return r.upstream(ctx)
	})
	g.Go(func() error {
		defer r.cancel()
		return r.downstream(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		r.client.interruptRead()
		return nil
	})

	err := g.Wait()
	if cerr := r.stream.Close(); cerr != nil {
		r.log.Debug().Err(cerr).Msg("Error closing STT stream")
	}
	return err
}

// upstream forwards binary frames verbatim. When the client goes away the
// provider's write side is closed.
func (r *transcriptionRelay) upstream(ctx context.Context) error {
	defer func() {
		if err := r.stream.CloseSend(); err != nil {
			r.log.Debug().Err(err).Msg("Error closing STT write side")
		}
	}()

	for {
		mt, data, err := r.client.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				r.log.Warn().Err(err).Msg("WebSocket read error")
			}
			return nil
		}
		if mt != websocket.BinaryMessage {
			continue
		}

		r.metrics.RecordAudio(len(data))
		if err := r.stream.SendAudio(data); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("send audio: %w", err)
		}
	}
}

// downstream classifies provider events until the provider terminates.
func (r *transcriptionRelay) downstream(ctx context.Context) error {
	for {
		result, err := r.stream.ReceiveTranscription()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive transcription: %w", err)
		}
		r.metrics.RecordSTTEvent(result.Type.String())

		switch result.Type {
		case providers.ResultReady:
			r.log.Info().Str("provider", result.ProviderName).Msg("STT session ready")
			r.client.Send(protocol.Ready())
		case providers.ResultTerminated:
			r.log.Info().Str("provider", result.ProviderName).Msg("STT session terminated")
			return nil
		case providers.ResultTranscript:
			text := strings.TrimSpace(result.Text)
			if !result.IsFinal || text == "" {
				continue
			}
			r.scheduler.Submit(r.sess.ID, text)
		}
	}
}
