package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"

	"github.com/go-go-golems/deepdiagram/pkg/conversation"
	"github.com/pkg/errors"
)

// Event names of the chat completion stream.
const (
	EventSessionCreated = "session_created"
	EventMessageCreated = "message_created"
	EventAgentSelected  = "agent_selected"
	EventThought        = "thought"
	EventToolCode       = "tool_code"
	EventToolArgsStream = "tool_args_stream"
	EventToolStart      = "tool_start"
	EventToolEnd        = "tool_end"
	EventError          = "error"
)

// StreamEvent is one server-sent event. Data holds the joined data lines.
type StreamEvent struct {
	Event string
	ID    string
	Data  []byte
}

func (e *StreamEvent) Decode(v interface{}) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return errors.Wrapf(err, "could not decode %s event", e.Event)
	}
	return nil
}

type SessionCreated struct {
	SessionID conversation.SessionID `json:"session_id"`
}

type MessageCreated struct {
	ID   conversation.MessageID `json:"id"`
	Role conversation.Role      `json:"role"`
}

type AgentSelected struct {
	Agent conversation.AgentType `json:"agent"`
}

// ContentDelta is the payload of thought and tool_code events.
type ContentDelta struct {
	Content string `json:"content"`
}

type ToolArgsDelta struct {
	Args string `json:"args"`
}

type ToolStart struct {
	Tool  string          `json:"tool"`
	Input json.RawMessage `json:"input"`
}

type ToolEnd struct {
	Output json.RawMessage `json:"output"`
}

// Text returns the tool output as stored in a tool_end step: strings as-is,
// anything else as its JSON encoding.
func (t *ToolEnd) Text() string {
	return rawText(t.Output)
}

func rawText(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s
	}
	return string(trimmed)
}

type StreamError struct {
	Message string `json:"message"`
}

// StreamDecoder reads server-sent events one at a time.
type StreamDecoder struct {
	reader *bufio.Reader
}

func NewStreamDecoder(r io.Reader) *StreamDecoder {
	return &StreamDecoder{reader: bufio.NewReader(r)}
}

// Next returns the next complete event, or io.EOF once the stream is exhausted.
// A trailing event without a terminating blank line is still returned.
func (d *StreamDecoder) Next() (*StreamEvent, error) {
	var event *StreamEvent
	var data [][]byte

	flush := func() *StreamEvent {
		if event == nil {
			return nil
		}
		event.Data = bytes.Join(data, []byte("\n"))
		if event.Event == "" {
			event.Event = "message"
		}
		return event
	}

	for {
		line, err := d.reader.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return nil, errors.Wrap(err, "could not read event stream")
		}
		atEOF := err == io.EOF

		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			if ret := flush(); ret != nil {
				return ret, nil
			}
			if atEOF {
				return nil, io.EOF
			}
			continue
		}

		if line[0] != ':' {
			field, value := parseSSELine(line)
			if event == nil {
				event = &StreamEvent{}
			}
			switch field {
			case "event":
				event.Event = value
			case "data":
				data = append(data, []byte(value))
			case "id":
				event.ID = value
			}
		}

		if atEOF {
			if ret := flush(); ret != nil {
				return ret, nil
			}
			return nil, io.EOF
		}
	}
}

// parseSSELine splits "field: value". A single space after the colon is dropped.
func parseSSELine(line []byte) (string, string) {
	idx := bytes.IndexByte(line, ':')
	if idx < 0 {
		return string(line), ""
	}
	value := line[idx+1:]
	value = bytes.TrimPrefix(value, []byte(" "))
	return string(line[:idx]), string(value)
}

// Stream is an open chat completion response.
type Stream struct {
	body    io.ReadCloser
	decoder *StreamDecoder
}

func (s *Stream) Next() (*StreamEvent, error) {
	return s.decoder.Next()
}

func (s *Stream) Close() error {
	return s.body.Close()
}
