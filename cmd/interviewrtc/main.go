package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	ossignal "os/signal"
	"syscall"

	"interview_room/native/internal/api"
	"interview_room/native/internal/config"
	"interview_room/native/internal/control"
	"interview_room/native/internal/domain"
	"interview_room/native/internal/ice"
	"interview_room/native/internal/media"
	"interview_room/native/internal/room"
	sigclient "interview_room/native/internal/signal"
	"interview_room/native/internal/store"
	"interview_room/native/internal/webrtc"
)

const helpText = `interviewrtc - Join a two-party interview room over WebRTC

Usage:
  interviewrtc [options]

Local camera and microphone are read from VIDEO_SOURCE (H264 Annex-B) and
AUDIO_SOURCE (Ogg/Opus). The other party's H264 stream is written to
REMOTE_VIDEO_OUT (stdout by default); pipe it to ffplay for playback.

Commands are read from stdin, one JSON object per line:
  {"kind":"alert","type":"LOOK_AWAY","message":"...","severity":"medium"}
  {"kind":"question","text":"..."}      (interviewer)
  {"kind":"transcript","text":"..."}
  {"kind":"end"}

Environment Variables (required):
  ROOM_ID        Interview room id
  ROLE           interviewer or candidate

Environment Variables (optional):
  SIGNALING_URL  Signaling WebSocket URL (default ws://localhost:5000/ws)
  USER_NAME      Display name
  AUTH_TOKEN     Bearer token for signaling and backend
  BACKEND_URL    Interview backend base URL, e.g. https://host/api
  STATE_STORE    memory, redis or sqlite
  ICE_SERVERS    Space separated STUN/TURN URLs (or ICE_SERVERS_FILE)

Examples:
  ROLE=candidate ROOM_ID=r1 VIDEO_SOURCE=cam.h264 interviewrtc | ffplay -f h264 -

Options:
  -h, --help  Show this help message
`

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help") {
		fmt.Print(helpText)
		os.Exit(0)
	}

	log.SetOutput(os.Stderr)
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[main] %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %s, shutting down", sig)
		cancel()
	}()

	// Step 1: State store
	st, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		log.Fatalf("[main] open %s store: %v", cfg.Store.Kind, err)
	}
	defer closeStore()

	// Step 2: Peer connection factory
	newConn, err := webrtc.NewPionFactory(cfg.ICEServers)
	if err != nil {
		log.Fatalf("[main] create peer factory: %v", err)
	}

	// Step 3: Remote video output
	out, closeOut, err := openOutput(cfg.RemoteVideoOut)
	if err != nil {
		log.Fatalf("[main] open remote video output: %v", err)
	}
	defer closeOut()

	opts := []room.Option{
		room.WithStore(st),
		room.WithObserver(&logObserver{sink: media.NewVideoSink(out)}),
	}

	// Step 4: Interview backend (optional)
	var transcripts control.Transcripts
	if cfg.BackendURL != "" {
		backend := api.NewClient(cfg.BackendURL, cfg.Token)
		opts = append(opts, room.WithBackend(backend))
		transcripts = backend
	}

	// Step 5: Coordinator. Every (re)connection gets a fresh signaling client.
	source := &media.FileSource{
		VideoPath: cfg.VideoSource,
		AudioPath: cfg.AudioSource,
		Loop:      cfg.LoopMedia,
	}
	log.Printf("[main] local media: %s", source)

	newSignaler := func(h domain.Handler) domain.Signaler {
		return sigclient.NewClient(sigclient.Options{URL: cfg.SignalingURL, Token: cfg.Token}, h)
	}
	newSession := func(q *ice.Queue) room.Session {
		return webrtc.NewSession(newConn, q)
	}

	coord := room.New(room.Config{
		Room:               cfg.Room,
		Role:               cfg.Role,
		DisplayName:        cfg.UserName,
		Constraints:        cfg.Constraints,
		ReconnectAttempts:  cfg.ReconnectAttempts,
		ReconnectDelay:     cfg.ReconnectDelay,
		NegotiationRetries: cfg.NegotiationRetries,
	}, source, newSignaler, newSession, opts...)

	// Step 6: Control commands from stdin
	reader := control.NewReader(cfg.Room, cfg.Role, cfg.UserName, coord.Relay(), transcripts, coord.End)
	go func() {
		if err := reader.Run(ctx, os.Stdin); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[main] control input: %v", err)
		}
	}()

	// Step 7: Run until the interview ends
	log.Printf("[main] joining room %s as %s (%s)", cfg.Room, cfg.Role, cfg.UserName)
	err = coord.Run(ctx)
	switch {
	case err == nil:
		log.Printf("[main] interview ended")
	case errors.Is(err, context.Canceled):
		log.Printf("[main] left room %s", cfg.Room)
	default:
		log.Printf("[main] %v", err)
		closeOut()
		closeStore()
		os.Exit(1)
	}

	log.Printf("[main] done")
}

func openStore(ctx context.Context, cfg config.StoreConfig) (domain.StateStore, func(), error) {
	switch cfg.Kind {
	case config.StoreRedis:
		r, err := store.NewRedis(ctx, store.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.RedisTTL,
		})
		if err != nil {
			return nil, nil, err
		}
		return r, func() { r.Close() }, nil
	case config.StoreSQLite:
		s, err := store.NewSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	}
	return store.NewMemory(), func() {}, nil
}

func openOutput(path string) (io.Writer, func(), error) {
	switch path {
	case "-":
		return os.Stdout, func() {}, nil
	case "", "none":
		return io.Discard, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

// logObserver reports coordinator events on stderr and plays remote video.
type logObserver struct {
	sink *media.VideoSink
}

func (o *logObserver) OnStateChange(s room.State) {
	log.Printf("[main] state: %s", s)
}

func (o *logObserver) OnRemoteTrack(track domain.RemoteTrack) {
	log.Printf("[main] remote %s track %s", track.Kind(), track.ID())
	go o.sink.Play(track)
}

func (o *logObserver) OnAlert(a domain.AlertEvent) {
	log.Printf("[main] ALERT %s (%s): %s", a.Type, a.Severity, a.Message)
}

func (o *logObserver) OnWarning(err error) {
	log.Printf("[main] warning: %v", err)
}

func (o *logObserver) OnTerminalError(err error) {
	log.Printf("[main] fatal: %v", err)
}
