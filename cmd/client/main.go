package main

import (
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/agnivade/voiceagent/logging"
	"github.com/agnivade/voiceagent/protocol"
)

// Client streams microphone audio to the relay, prints the conversation and
// saves every spoken reply to the output directory.
type Client struct {
	conn        *websocket.Conn
	audioReader io.Reader
	log         zerolog.Logger
	out         io.Writer
	outputDir   string
	wg          sync.WaitGroup

	replies int
	reply   *os.File
}

func main() {
	serverURL := flag.String("url", "ws://localhost:8000/ws", "WebSocket server URL")
	sessionID := flag.String("session", "", "session id, reuse it to keep chat history")
	persona := flag.String("persona", "", "reply persona")
	skill := flag.String("skill", "", "force a built-in skill")
	outputDir := flag.String("output", "replies", "directory for synthesized replies")
	flag.Parse()

	logger := logging.NewWithWriter(logging.Config{Level: "info", Format: "console"}, os.Stderr)

	wsURL, err := sessionURL(*serverURL, *sessionID, *persona, *skill)
	if err != nil {
		logger.Error().Err(err).Msg("Invalid server URL")
		return
	}

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		logger.Error().Err(err).Msg("Failed to create output directory")
		return
	}

	mic, err := NewMicrophoneReader()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open microphone")
		return
	}
	defer mic.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		logger.Error().Err(err).Msg("WebSocket dial failed")
		return
	}
	defer conn.Close()

	client := &Client{
		conn:        conn,
		audioReader: mic,
		log:         logger,
		out:         os.Stdout,
		outputDir:   *outputDir,
	}

	fmt.Println("Recording... Press Ctrl+C to stop.")
	client.Start()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	client.Close()
	fmt.Println("\nDone.")
}

func sessionURL(base, sessionID, persona, skill string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, v := range map[string]string{"session_id": sessionID, "persona": persona, "skill": skill} {
		if v != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) Start() {
	c.wg.Add(2)
	go c.reader()
	go c.writer()
}

func (c *Client) reader() {
	defer c.wg.Done()
	defer c.finishReply()

	for {
		var ev protocol.Event
		if err := c.conn.ReadJSON(&ev); err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) || errors.Is(err, net.ErrClosed) {
				return
			}
			c.log.Warn().Err(err).Msg("WebSocket read error")
			return
		}
		c.handle(ev)
	}
}

func (c *Client) handle(ev protocol.Event) {
	timestamp := time.Now().Format("15:04:05")

	switch ev.Event {
	case protocol.EventReady:
		fmt.Fprintf(c.out, "[%s] listening\n", timestamp)
	case protocol.EventTurnEnd:
		fmt.Fprintf(c.out, "[%s] %s: %s\n", timestamp, ev.Role, ev.Text)
	case protocol.EventTTSBegin:
		c.startReply(ev.Format)
	case protocol.EventTTSChunk:
		c.writeChunk(ev)
	case protocol.EventTTSDone:
		c.finishReply()
	case protocol.EventTTSSkipped:
		c.log.Info().Str("reason", ev.Reason).Msg("Reply not spoken")
	case protocol.EventTTSError:
		c.log.Warn().Str("error", ev.Error).Msg("Speech synthesis failed")
	case protocol.EventError:
		c.log.Error().Str("error", ev.Error).Msg("Server error")
	}
}

func (c *Client) startReply(format string) {
	c.finishReply()
	if format == "" {
		format = "wav"
	}
	c.replies++
	path := filepath.Join(c.outputDir, fmt.Sprintf("reply-%03d.%s", c.replies, format))
	f, err := os.Create(path)
	if err != nil {
		c.log.Error().Err(err).Str("path", path).Msg("Failed to create reply file")
		return
	}
	c.reply = f
}

func (c *Client) writeChunk(ev protocol.Event) {
	if c.reply == nil {
		return
	}
	audio, err := base64.StdEncoding.DecodeString(ev.AudioB64)
	if err != nil {
		c.log.Warn().Err(err).Int("chunk", ev.ChunkIndex).Msg("Skipping undecodable chunk")
		return
	}
	if _, err := c.reply.Write(audio); err != nil {
		c.log.Error().Err(err).Msg("Failed to write reply audio")
	}
}

func (c *Client) finishReply() {
	if c.reply == nil {
		return
	}
	name := c.reply.Name()
	if err := c.reply.Close(); err != nil {
		c.log.Error().Err(err).Msg("Failed to close reply file")
	}
	c.reply = nil
	fmt.Fprintf(c.out, "[%s] saved %s\n", time.Now().Format("15:04:05"), name)
}

func (c *Client) writer() {
	defer c.wg.Done()
	buf := make([]byte, framesPerBuffer*2)
	for {
		n, err := c.audioReader.Read(buf)
		if n > 0 {
			if werr := c.conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
				if !errors.Is(werr, net.ErrClosed) {
					c.log.Error().Err(werr).Msg("WebSocket write error")
				}
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.log.Error().Err(err).Msg("Audio read error")
			}
			return
		}
	}
}

func (c *Client) Close() {
	c.log.Info().Msg("Closing client...")
	if c.conn != nil {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.conn.Close()
	}
	c.wg.Wait()
}
