// Package google adapts Cloud Speech-to-Text streaming recognition to
// providers.Session.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/agnivade/voiceagent/providers"
)

const providerName = "google"

// recognizeStream is the subset of speechpb.Speech_StreamingRecognizeClient
// a Session drives.
type recognizeStream interface {
	Send(*speechpb.StreamingRecognizeRequest) error
	Recv() (*speechpb.StreamingRecognizeResponse, error)
	CloseSend() error
}

// Provider opens Google Speech-to-Text streaming sessions.
type Provider struct {
	client *speech.Client
}

// NewProvider creates a Google Speech provider with the given client.
func NewProvider(client *speech.Client) *Provider {
	return &Provider{client: client}
}

// Name returns the name of the provider.
func (p *Provider) Name() string {
	return providerName
}

// NewSession opens a recognition stream and sends its configuration, which
// must be the first message on the stream.
func (p *Provider) NewSession(ctx context.Context, config providers.SessionConfig) (providers.Session, error) {
	ctx, cancel := context.WithCancel(ctx)
	stream, err := p.client.StreamingRecognize(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open google stream: %w", err)
	}

	if err := stream.Send(configRequest(config)); err != nil {
		_ = stream.CloseSend()
		cancel()
		return nil, fmt.Errorf("send google config: %w", err)
	}

	return &Session{stream: stream, cancel: cancel, announce: true}, nil
}

func configRequest(config providers.SessionConfig) *speechpb.StreamingRecognizeRequest {
	return &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   speechpb.RecognitionConfig_LINEAR16,
					SampleRateHertz:            int32(config.SampleRate),
					LanguageCode:               config.LanguageCode,
					EnableAutomaticPunctuation: true,
				},
				InterimResults: config.InterimResults,
			},
		},
	}
}

// Session is one recognition stream.
type Session struct {
	stream recognizeStream
	cancel context.CancelFunc

	// Google has no ready event, so the first receive reports one.
	announce bool
}

func (s *Session) SendAudio(audioData []byte) error {
	return s.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{AudioContent: audioData},
	})
}

// ReceiveTranscription returns the next non-blank final result. A finished
// or cancelled stream is reported as io.EOF.
func (s *Session) ReceiveTranscription() (providers.TranscriptionResult, error) {
	if s.announce {
		s.announce = false
		return providers.TranscriptionResult{
			Type:         providers.ResultReady,
			ProviderName: providerName,
			ReceivedAt:   time.Now(),
		}, nil
	}

	for {
		resp, err := s.stream.Recv()
		switch {
		case errors.Is(err, io.EOF), status.Code(err) == codes.Canceled:
			return providers.TranscriptionResult{}, io.EOF
		case err != nil:
			return providers.TranscriptionResult{}, err
		}

		if alt := finalAlternative(resp); alt != nil {
			return providers.TranscriptionResult{
				Type:         providers.ResultTranscript,
				Text:         strings.TrimSpace(alt.Transcript),
				IsFinal:      true,
				Confidence:   alt.Confidence,
				ProviderName: providerName,
				ReceivedAt:   time.Now(),
			}, nil
		}
	}
}

func finalAlternative(resp *speechpb.StreamingRecognizeResponse) *speechpb.SpeechRecognitionAlternative {
	for _, r := range resp.GetResults() {
		if !r.GetIsFinal() || len(r.GetAlternatives()) == 0 {
			continue
		}
		if alt := r.GetAlternatives()[0]; strings.TrimSpace(alt.GetTranscript()) != "" {
			return alt
		}
	}
	return nil
}

// CloseSend half-closes the stream so Google flushes its last results.
func (s *Session) CloseSend() error {
	return s.stream.CloseSend()
}

func (s *Session) Close() error {
	err := s.stream.CloseSend()
	if s.cancel != nil {
		s.cancel()
	}
	return err
}
