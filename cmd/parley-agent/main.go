// ABOUTME: Reference agent for the parley protocol, built on the client transports.
// ABOUTME: Usage: parley-agent [-uri ws://host/ws] [-source name] <operation> [payload-json]

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/parley-protocol/parley/internal/protocol"
	"github.com/parley-protocol/parley/internal/transport"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config (default: $XDG_CONFIG_HOME/parley/agent.toml)")
	uri := flag.String("uri", "", "host URI, e.g. ws://localhost:8080/ws (overrides config)")
	source := flag.String("source", "", "agent identity placed in message envelopes (overrides config)")
	token := flag.String("token", "", "bearer credential presented to the host (overrides config)")
	codec := flag.String("codec", "", "wire codec, json or cbor (overrides config)")
	timeout := flag.Duration("timeout", 30*time.Second, "how long to wait for each response")
	flag.Usage = usage
	flag.Parse()

	if err := run(*configPath, *uri, *source, *token, *codec, *timeout, flag.Args()); err != nil {
		log.Fatal(err)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: parley-agent [flags] <operation> [payload-json]\n")
	fmt.Fprintf(os.Stderr, "       parley-agent [flags] listen\n\n")
	fmt.Fprintf(os.Stderr, "Operations: %s\n\n", strings.Join(requestKinds(), ", "))
	fmt.Fprintf(os.Stderr, "Flags:\n")
	flag.PrintDefaults()
}

// requestKinds lists the operations an agent may initiate, minus capability
// negotiation which run performs on every connect.
func requestKinds() []string {
	var kinds []string
	for _, t := range protocol.AllTypes() {
		if t.IsRequest() && t != protocol.TypeCapabilityRequest {
			kinds = append(kinds, string(t))
		}
	}
	return kinds
}

func run(configPath, uri, source, token, codecName string, timeout time.Duration, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if uri != "" {
		cfg.Host.URI = uri
	}
	if source != "" {
		cfg.Agent.Source = source
	}
	if token != "" {
		cfg.Agent.Token = token
	}
	if codecName != "" {
		cfg.Agent.Codec = codecName
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	wireCodec, err := protocol.CodecByName(cfg.Agent.Codec)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	logger := setupLogger(cfg.Logging.Level)

	tr, err := transport.New(cfg.Host.URI, transport.Options{
		Source:    cfg.Agent.Source,
		AuthToken: cfg.Agent.Token,
		Codec:     wireCodec,
	}, logger)
	if err != nil {
		return fmt.Errorf("building transport: %w", err)
	}

	if err := tr.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to %s: %w", cfg.Host.URI, err)
	}
	defer func() {
		dctx, dcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer dcancel()
		_ = tr.Disconnect(dctx)
	}()

	// Capability negotiation comes first so the agent knows what the host
	// will accept before it sends business traffic.
	caps, err := roundTrip(ctx, tr, protocol.NewRequest(protocol.TypeCapabilityRequest, cfg.Agent.Source, nil), timeout)
	if err != nil {
		return fmt.Errorf("negotiating capabilities: %w", err)
	}
	fmt.Fprintf(os.Stderr, "connected to %s (protocol %v, runtime %v)\n",
		cfg.Host.URI, caps.Payload["protocolVersion"], caps.Payload["runtimeVersion"])

	if len(args) == 0 || args[0] == "listen" {
		return listen(ctx, tr, cfg.Agent.Source, logger)
	}
	return sendRequest(ctx, tr, cfg.Agent.Source, args, timeout)
}

// loadConfig reads the explicit path when given, falls back to the XDG
// default when that file exists, and otherwise starts from a zero config so
// flags alone can drive the agent.
func loadConfig(explicit string) (*Config, error) {
	if explicit != "" {
		return Load(explicit)
	}
	path := getConfigPath()
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}
	return &Config{}, nil
}

func setupLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// sendRequest performs one operation and prints the host's response as JSON.
func sendRequest(ctx context.Context, tr transport.Transport, source string, args []string, timeout time.Duration) error {
	mt := protocol.MessageType(args[0])
	if !mt.Valid() || !mt.IsRequest() {
		return fmt.Errorf("%q is not a request operation (want one of: %s)", args[0], strings.Join(requestKinds(), ", "))
	}

	var payload map[string]any
	if len(args) > 1 {
		if err := json.Unmarshal([]byte(args[1]), &payload); err != nil {
			return fmt.Errorf("parsing payload: %w", err)
		}
	}

	resp, err := roundTrip(ctx, tr, protocol.NewRequest(mt, source, payload), timeout)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding response: %w", err)
	}
	fmt.Println(string(out))

	if !resp.Success && resp.Error != nil {
		return fmt.Errorf("host returned %s: %s", resp.Error.Code, resp.Error.Message)
	}
	return nil
}

// roundTrip sends req and waits for the response correlated to it. Frames
// that arrive in between, such as broadcast notifications, are skipped.
func roundTrip(ctx context.Context, tr transport.Transport, req *protocol.Request, timeout time.Duration) (*protocol.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := tr.Send(ctx, req); err != nil {
		return nil, fmt.Errorf("sending %s: %w", req.Type, err)
	}
	for {
		f, err := tr.Receive(ctx)
		if errors.Is(err, transport.ErrReceiveTimeout) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("awaiting %s response: %w", req.Type, err)
		}
		resp, ok := f.(*protocol.Response)
		if !ok || resp.RequestID != req.ID {
			continue
		}
		return resp, nil
	}
}

// listen prints every frame the host pushes and answers host-originated
// requests with an echo response, standing in for a tool-backed agent.
func listen(ctx context.Context, tr transport.Transport, source string, logger *slog.Logger) error {
	logger.Info("listening for host frames", "source", source)

	for {
		f, err := tr.Receive(ctx)
		if errors.Is(err, transport.ErrReceiveTimeout) {
			continue
		}
		if errors.Is(err, transport.ErrClosed) || errors.Is(err, transport.ErrNotConnected) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil // graceful shutdown
			}
			return fmt.Errorf("receive error: %w", err)
		}

		env := f.Envelope()
		switch m := f.(type) {
		case *protocol.Request:
			logger.Info("request received", "type", env.Type, "id", env.ID, "from", env.Source)
			if _, ok := protocol.ResponseTypeFor(m.Type); !ok || !m.ExpectResponse {
				continue
			}
			reply := protocol.NewResponse(m, source, map[string]any{"echo": m.Payload})
			if err := tr.Send(ctx, reply); err != nil {
				logger.Error("sending reply failed", "requestId", m.ID, "error", err)
			}
		case *protocol.Notification:
			logger.Info("notification received", "type", env.Type, "payload", m.Payload)
		case *protocol.Response:
			logger.Info("response received", "type", env.Type, "requestId", m.RequestID, "success", m.Success)
		}
	}
}
