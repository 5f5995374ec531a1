package main

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gordonklaus/portaudio"
)

const (
	sampleRate      = 16000
	framesPerBuffer = 1024
)

// MicrophoneReader captures mono 16-bit PCM at 16kHz from the default input
// device, the format the relay forwards to speech-to-text unchanged.
type MicrophoneReader struct {
	stream *portaudio.Stream
	buffer []int16
}

// NewMicrophoneReader starts recording. The caller must Close it.
func NewMicrophoneReader() (*MicrophoneReader, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}

	buffer := make([]int16, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), len(buffer), buffer)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("open input stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("start input stream: %w", err)
	}

	return &MicrophoneReader{
		stream: stream,
		buffer: buffer,
	}, nil
}

// Read blocks for one frame and copies it into p as little-endian PCM. A p
// shorter than a frame receives a truncated frame.
func (m *MicrophoneReader) Read(p []byte) (int, error) {
	if err := m.stream.Read(); err != nil {
		if errors.Is(err, portaudio.InputOverflowed) {
			// Dropped samples are not fatal for speech.
			return copy(p, int16SliceToByteSlice(m.buffer)), nil
		}
		return 0, err
	}
	return copy(p, int16SliceToByteSlice(m.buffer)), nil
}

// Close stops recording and releases PortAudio.
func (m *MicrophoneReader) Close() error {
	var err error
	if m.stream != nil {
		if stopErr := m.stream.Stop(); stopErr != nil {
			err = stopErr
		}
		if closeErr := m.stream.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	portaudio.Terminate()
	return err
}

func int16SliceToByteSlice(in []int16) []byte {
	out := make([]byte, len(in)*2)
	for i, v := range in {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(v))
	}
	return out
}
