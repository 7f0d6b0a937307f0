package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// MaxFrameSize caps one wire frame. State apply results carry the full
// per-step map for a state tree, so the ceiling is generous.
const MaxFrameSize = 10 << 20

// ErrFrameTooLarge reports a frame over MaxFrameSize. The decoder
// discards the oversized frame and stays usable for the next one.
var ErrFrameTooLarge = errors.New("frame exceeds size limit")

// Encoder frames protocol messages onto an io.Writer, one JSON document
// per line.
type Encoder struct {
	out *bufio.Writer
}

// NewEncoder returns an Encoder writing framed messages to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{out: bufio.NewWriter(w)}
}

// Encode frames one message: the payload is marshalled, stamped, size
// checked, and flushed immediately so the peer never waits on a
// buffered frame.
func (e *Encoder) Encode(msgType MessageType, data interface{}) error {
	if err := msgType.Validate(); err != nil {
		return err
	}

	var payload json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", msgType, err)
		}
		payload = b
	}

	frame, err := json.Marshal(Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Data:      payload,
	})
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", msgType, err)
	}
	if len(frame) >= MaxFrameSize {
		return fmt.Errorf("%w: %s frame is %d bytes", ErrFrameTooLarge, msgType, len(frame))
	}

	if _, err := e.out.Write(frame); err != nil {
		return fmt.Errorf("write %s frame: %w", msgType, err)
	}
	if err := e.out.WriteByte('\n'); err != nil {
		return fmt.Errorf("terminate %s frame: %w", msgType, err)
	}
	return e.out.Flush()
}

// EncodeReady sends a READY message.
func (e *Encoder) EncodeReady(ready *ReadyMessage) error {
	return e.Encode(MessageTypeReady, ready)
}

// EncodeCommand sends a CMD message. The envelope and the typed payload
// are both validated before framing, so malformed work is rejected on
// the controller side instead of on the target.
func (e *Encoder) EncodeCommand(cmd *CommandMessage) error {
	if err := cmd.Validate(); err != nil {
		return fmt.Errorf("invalid command: %w", err)
	}
	if err := ValidateParams(cmd.Type, cmd.Params); err != nil {
		return fmt.Errorf("invalid %s params: %w", cmd.Type, err)
	}
	return e.Encode(MessageTypeCommand, cmd)
}

// EncodeEvent sends an EVENT message.
func (e *Encoder) EncodeEvent(event *EventMessage) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	return e.Encode(MessageTypeEvent, event)
}

// EncodeDone sends a DONE message.
func (e *Encoder) EncodeDone(done *DoneMessage) error {
	return e.Encode(MessageTypeDone, done)
}

// EncodeError sends an ERROR message.
func (e *Encoder) EncodeError(err *ErrorMessage) error {
	return e.Encode(MessageTypeError, err)
}

// EncodeExit sends an EXIT message.
func (e *Encoder) EncodeExit(exit *ExitMessage) error {
	return e.Encode(MessageTypeExit, exit)
}

// Decoder reads framed messages from an io.Reader. The frame cap is
// enforced while reading, without ever buffering a full oversized
// frame.
type Decoder struct {
	in *bufio.Reader
}

// NewDecoder returns a Decoder reading framed messages from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{in: bufio.NewReaderSize(r, 64*1024)}
}

// readFrame accumulates one newline-terminated frame. A final frame
// without a terminator is accepted at EOF.
func (d *Decoder) readFrame() ([]byte, error) {
	var frame []byte
	for {
		chunk, err := d.in.ReadSlice('\n')
		frame = append(frame, chunk...)
		if len(frame) > MaxFrameSize {
			if err == bufio.ErrBufferFull {
				if derr := d.discardFrame(); derr != nil {
					return nil, derr
				}
			}
			return nil, ErrFrameTooLarge
		}
		switch err {
		case nil:
			return bytes.TrimRight(frame, "\n"), nil
		case bufio.ErrBufferFull:
			continue
		case io.EOF:
			if len(frame) == 0 {
				return nil, io.EOF
			}
			return frame, nil
		default:
			return nil, fmt.Errorf("read frame: %w", err)
		}
	}
}

// discardFrame skips the remainder of an oversized frame up to its
// terminator.
func (d *Decoder) discardFrame() error {
	for {
		_, err := d.in.ReadSlice('\n')
		switch err {
		case nil, io.EOF:
			return nil
		case bufio.ErrBufferFull:
			continue
		default:
			return fmt.Errorf("discard frame: %w", err)
		}
	}
}

// Decode reads the next message and checks its envelope.
func (d *Decoder) Decode() (*Message, error) {
	frame, err := d.readFrame()
	if err != nil {
		return nil, err
	}
	if len(frame) == 0 {
		return nil, errors.New("empty frame")
	}

	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal frame: %w", err)
	}
	if err := msg.Type.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DecodeCommand reads the next message, requiring a CMD whose envelope
// and typed payload both validate.
func (d *Decoder) DecodeCommand() (*CommandMessage, error) {
	msg, err := d.Decode()
	if err != nil {
		return nil, err
	}
	if msg.Type != MessageTypeCommand {
		return nil, fmt.Errorf("expected %s message, got %s", MessageTypeCommand, msg.Type)
	}

	var cmd CommandMessage
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		return nil, fmt.Errorf("unmarshal command: %w", err)
	}
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("invalid command: %w", err)
	}
	if err := ValidateParams(cmd.Type, cmd.Params); err != nil {
		return nil, fmt.Errorf("invalid %s params: %w", cmd.Type, err)
	}
	return &cmd, nil
}

// ParseParams parses a raw payload into its typed form.
func ParseParams(params json.RawMessage, target interface{}) error {
	if err := json.Unmarshal(params, target); err != nil {
		return fmt.Errorf("parse params: %w", err)
	}
	return nil
}

// ValidateParams checks a command payload against its typed schema.
// Both codec ends apply it, so a payload that decodes on the runner is
// one the controller could have produced.
func ValidateParams(ct CommandType, params json.RawMessage) error {
	switch ct {
	case CommandTypePing:
		var p PingParams
		return ParseParams(params, &p)

	case CommandTypeExec:
		var p ExecParams
		if err := ParseParams(params, &p); err != nil {
			return err
		}
		if p.Command == "" {
			return errors.New("exec command is required")
		}
		return nil

	case CommandTypeFileWrite:
		var p FileWriteParams
		if err := ParseParams(params, &p); err != nil {
			return err
		}
		if p.Path == "" {
			return errors.New("file path is required")
		}
		return nil

	case CommandTypeFileRead:
		var p FileReadParams
		if err := ParseParams(params, &p); err != nil {
			return err
		}
		if p.Path == "" {
			return errors.New("file path is required")
		}
		return nil

	case CommandTypePkgEnsure:
		var p PkgEnsureParams
		if err := ParseParams(params, &p); err != nil {
			return err
		}
		if p.Name == "" {
			return errors.New("package name is required")
		}
		if p.State != "present" && p.State != "absent" {
			return fmt.Errorf("invalid package state: %q", p.State)
		}
		return nil

	case CommandTypeServiceManage:
		var p ServiceManageParams
		if err := ParseParams(params, &p); err != nil {
			return err
		}
		if p.Name == "" {
			return errors.New("service name is required")
		}
		switch p.Action {
		case "start", "stop", "restart", "reload", "enable", "disable":
			return nil
		default:
			return fmt.Errorf("invalid service action: %q", p.Action)
		}

	case CommandTypeStateApply:
		// An empty state list is the highstate form and is valid.
		var p StateApplyParams
		if err := ParseParams(params, &p); err != nil {
			return err
		}
		for _, s := range p.States {
			if s == "" {
				return errors.New("state identifiers must be non-empty")
			}
		}
		return nil

	default:
		return ct.Validate()
	}
}
