// Package control reads newline-delimited JSON commands that drive a running
// participant: proctoring alerts, interview questions, transcripts and end.
package control

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"interview_room/native/internal/domain"
)

// Command kinds.
const (
	KindAlert      = "alert"
	KindQuestion   = "question"
	KindTranscript = "transcript"
	KindEnd        = "end"
)

const maxLine = 1 << 20

// ErrNoBackend is returned for commands that need the interview backend when
// none is configured.
var ErrNoBackend = errors.New("no interview backend configured")

// AlertForwarder relays an alert to the other party.
type AlertForwarder interface {
	Forward(a domain.AlertEvent) domain.AlertEvent
}

// Transcripts stores questions and transcripts.
type Transcripts interface {
	SaveQuestion(ctx context.Context, room domain.RoomID, interviewerName, text string) (string, error)
	GenerateTranscript(ctx context.Context, room domain.RoomID) error
	SaveTranscript(ctx context.Context, room domain.RoomID, role domain.Role, text string) error
}

type command struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// Reader dispatches commands for one participant.
type Reader struct {
	room    domain.RoomID
	role    domain.Role
	name    string
	alerts  AlertForwarder
	backend Transcripts
	end     func()
}

// NewReader creates a reader. backend may be nil, in which case question and
// transcript commands fail with ErrNoBackend.
func NewReader(room domain.RoomID, role domain.Role, name string, alerts AlertForwarder, backend Transcripts, end func()) *Reader {
	return &Reader{
		room:    room,
		role:    role,
		name:    name,
		alerts:  alerts,
		backend: backend,
		end:     end,
	}
}

// Run reads commands from in until EOF, an end command or ctx is done.
// Bad commands are logged and skipped.
func (r *Reader) Run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		done, err := r.handle(ctx, []byte(line))
		if err != nil {
			log.Printf("[control] %v", err)
		}
		if done {
			return nil
		}
	}
	return scanner.Err()
}

// Handle runs one command line.
func (r *Reader) Handle(ctx context.Context, line []byte) error {
	_, err := r.handle(ctx, line)
	return err
}

func (r *Reader) handle(ctx context.Context, line []byte) (bool, error) {
	var cmd command
	if err := json.Unmarshal(line, &cmd); err != nil {
		return false, fmt.Errorf("malformed command: %w", err)
	}

	switch cmd.Kind {
	case KindAlert:
		return false, r.alert(line)
	case KindQuestion:
		return false, r.question(ctx, cmd.Text)
	case KindTranscript:
		return false, r.transcript(ctx, cmd.Text)
	case KindEnd:
		log.Printf("[control] ending interview")
		r.end()
		return true, nil
	case "":
		return false, errors.New("command without kind")
	}
	return false, fmt.Errorf("unknown command kind %q", cmd.Kind)
}

func (r *Reader) alert(line []byte) error {
	var a domain.AlertEvent
	if err := json.Unmarshal(line, &a); err != nil {
		return fmt.Errorf("malformed alert: %w", err)
	}
	delete(a.Payload, "kind")
	if len(a.Payload) == 0 {
		a.Payload = nil
	}
	if a.Type == "" {
		return errors.New("alert without type")
	}

	a = r.alerts.Forward(a)
	log.Printf("[control] alert %s at %s", a.Type, a.Timestamp)
	return nil
}

// question saves an interviewer question and refreshes the room transcript.
func (r *Reader) question(ctx context.Context, text string) error {
	if r.role != domain.RoleInterviewer {
		return fmt.Errorf("question: only the interviewer asks questions")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("question: empty text")
	}
	if r.backend == nil {
		return fmt.Errorf("question: %w", ErrNoBackend)
	}

	id, err := r.backend.SaveQuestion(ctx, r.room, r.name, text)
	if err != nil {
		return fmt.Errorf("save question: %w", err)
	}
	log.Printf("[control] question %s saved", id)

	if err := r.backend.GenerateTranscript(ctx, r.room); err != nil {
		return fmt.Errorf("generate transcript: %w", err)
	}
	return nil
}

func (r *Reader) transcript(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("transcript: empty text")
	}
	if r.backend == nil {
		return fmt.Errorf("transcript: %w", ErrNoBackend)
	}
	if err := r.backend.SaveTranscript(ctx, r.room, r.role, text); err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	log.Printf("[control] transcript saved (%d chars)", len(text))
	return nil
}
