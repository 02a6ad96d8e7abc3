package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"interview_room/native/internal/domain"
)

// ErrBackend wraps every failure reported by the interview backend.
var ErrBackend = errors.New("interview backend")

const requestTimeout = 10 * time.Second

// envelope is the backend's response shape. Older endpoints answer with
// ok instead of success.
type envelope struct {
	Success    *bool           `json:"success"`
	OK         *bool           `json:"ok"`
	Message    string          `json:"message"`
	Error      string          `json:"error"`
	QuestionID json.RawMessage `json:"questionId"`
}

func (e envelope) failed() bool {
	return (e.Success != nil && !*e.Success) || (e.OK != nil && !*e.OK)
}

type interviewerNameRequest struct {
	RoomID          domain.RoomID `json:"roomId"`
	InterviewerName string        `json:"interviewerName"`
}

type questionRequest struct {
	RoomID          domain.RoomID `json:"roomId"`
	InterviewerName string        `json:"interviewerName"`
	QuestionText    string        `json:"questionText"`
}

type roomRequest struct {
	RoomID domain.RoomID `json:"roomId"`
}

type transcriptRequest struct {
	RoomID         domain.RoomID `json:"roomId"`
	SenderRole     domain.Role   `json:"senderRole"`
	TranscriptText string        `json:"transcriptText"`
}

// Client talks to the interview backend that stores names, questions,
// transcripts and interview status.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client for the backend rooted at baseURL
// (e.g. https://host/api). token is sent as a bearer token when set.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

func (c *Client) post(ctx context.Context, path string, body any) (envelope, error) {
	var env envelope

	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return env, fmt.Errorf("marshal %s request: %w", path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return env, fmt.Errorf("create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return env, fmt.Errorf("%w: %s: %v", ErrBackend, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return env, fmt.Errorf("%w: %s: read response: %v", ErrBackend, path, err)
	}

	// Some endpoints answer with an empty body.
	if len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, &env); err != nil && resp.StatusCode/100 == 2 {
			return env, fmt.Errorf("%w: %s: unmarshal response: %v", ErrBackend, path, err)
		}
	}

	if resp.StatusCode/100 != 2 {
		msg := env.Error
		if msg == "" {
			msg = strings.TrimSpace(string(respBody))
		}
		return env, fmt.Errorf("%w: %s: http %d: %s", ErrBackend, path, resp.StatusCode, msg)
	}
	if env.failed() {
		msg := env.Error
		if msg == "" {
			msg = env.Message
		}
		return env, fmt.Errorf("%w: %s: %s", ErrBackend, path, msg)
	}
	return env, nil
}

// UpdateInterviewerName records the interviewer's display name for room.
func (c *Client) UpdateInterviewerName(ctx context.Context, room domain.RoomID, name string) error {
	env, err := c.post(ctx, "/auth/rooms/update-interviewer-name", interviewerNameRequest{
		RoomID:          room,
		InterviewerName: strings.TrimSpace(name),
	})
	if err != nil {
		return err
	}
	log.Printf("[api] interviewer name saved: %s", env.Message)
	return nil
}

// UpdateParticipantName records the display name of role. The backend only
// tracks the interviewer's name, so candidates are a no-op.
func (c *Client) UpdateParticipantName(ctx context.Context, room domain.RoomID, role domain.Role, name string) error {
	if role != domain.RoleInterviewer {
		return nil
	}
	return c.UpdateInterviewerName(ctx, room, name)
}

// SaveQuestion stores one interviewer question and returns its id.
func (c *Client) SaveQuestion(ctx context.Context, room domain.RoomID, interviewerName, text string) (string, error) {
	env, err := c.post(ctx, "/auth/questions/save", questionRequest{
		RoomID:          room,
		InterviewerName: interviewerName,
		QuestionText:    text,
	})
	if err != nil {
		return "", err
	}
	return strings.Trim(string(env.QuestionID), `"`), nil
}

// GenerateTranscript rebuilds the combined transcript of room.
func (c *Client) GenerateTranscript(ctx context.Context, room domain.RoomID) error {
	_, err := c.post(ctx, "/conversation/generate-transcript", roomRequest{RoomID: room})
	return err
}

// SaveTranscript stores the full transcript spoken by role.
func (c *Client) SaveTranscript(ctx context.Context, room domain.RoomID, role domain.Role, text string) error {
	_, err := c.post(ctx, "/conversation/save-full", transcriptRequest{
		RoomID:         room,
		SenderRole:     role,
		TranscriptText: text,
	})
	return err
}

// CompleteInterview marks the interview of room as completed.
func (c *Client) CompleteInterview(ctx context.Context, room domain.RoomID) error {
	_, err := c.post(ctx, "/auth/interviews/"+url.PathEscape(string(room))+"/complete", nil)
	if err != nil {
		return err
	}
	log.Printf("[api] interview %s marked completed", room)
	return nil
}
