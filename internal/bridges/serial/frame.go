package serial

import (
	"fmt"
	"strings"
)

// fieldDelimiter separates fields on the wire.
const fieldDelimiter = ","

// Kind identifies the type of a frame.
type Kind string

// Frame kinds as they appear on the wire.
const (
	// KindReading is a sensor value to be stored.
	KindReading Kind = "SEN"

	// KindLocalCommand is a command observed on a device that must be
	// routed to another device.
	KindLocalCommand Kind = "CMD"

	// KindAck acknowledges a previously routed command.
	KindAck Kind = "ACK"

	// KindRoutedCommand is a command addressed to a specific device.
	KindRoutedCommand Kind = "CMO"
)

// Valid reports whether k is one of the four known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindReading, KindLocalCommand, KindAck, KindRoutedCommand:
		return true
	default:
		return false
	}
}

// Label returns a lowercase name suitable for logs and metric labels.
func (k Kind) Label() string {
	switch k {
	case KindReading:
		return "reading"
	case KindLocalCommand:
		return "command"
	case KindAck:
		return "ack"
	case KindRoutedCommand:
		return "routed_command"
	default:
		return "unknown"
	}
}

// Frame is one decoded line of the wire protocol.
//
// OriginDeviceID is never parsed from the line. The caller supplies the ID
// of the device whose port produced it.
type Frame struct {
	OriginDeviceID string
	Kind           Kind
	MetricName     string
	Value          string
}

// String returns the inbound wire form of the frame (without newline).
func (f Frame) String() string {
	return EncodeFrame(f.Kind, f.MetricName, f.Value)
}

// Decode parses one inbound line into a Frame.
//
// Surrounding whitespace and CR/LF are trimmed. The line must contain exactly
// three comma-separated fields: kind, metric name and value.
//
// Parameters:
//   - raw: The raw line read from the port
//   - originDeviceID: ID of the device the line was read from
//
// Returns:
//   - Frame: The decoded frame
//   - error: ErrMalformedFrame or ErrUnknownKind
func Decode(raw, originDeviceID string) (Frame, error) {
	line := strings.TrimSpace(raw)
	if line == "" {
		return Frame{}, fmt.Errorf("%w: empty line", ErrMalformedFrame)
	}

	fields := strings.Split(line, fieldDelimiter)
	if len(fields) != 3 {
		return Frame{}, fmt.Errorf("%w: expected 3 fields, got %d", ErrMalformedFrame, len(fields))
	}

	kind := Kind(strings.TrimSpace(fields[0]))
	if !kind.Valid() {
		return Frame{}, fmt.Errorf("%w: %q", ErrUnknownKind, string(kind))
	}

	// An empty metric still decodes; routing rejects it later.
	return Frame{
		OriginDeviceID: originDeviceID,
		Kind:           kind,
		MetricName:     strings.TrimSpace(fields[1]),
		Value:          strings.TrimSpace(fields[2]),
	}, nil
}

// DecodeCommand parses the outbound routed-command form produced by Encode.
//
// The leading target field is split off and the remainder is decoded with
// the target as origin, so the result is attributed to the addressed device.
// Only RoutedCommand frames are accepted.
func DecodeCommand(commandText string) (Frame, error) {
	line := strings.TrimSpace(commandText)
	target, rest, ok := strings.Cut(line, fieldDelimiter)
	target = strings.TrimSpace(target)
	if !ok || target == "" {
		return Frame{}, fmt.Errorf("%w: missing target field", ErrMalformedFrame)
	}

	frame, err := Decode(rest, target)
	if err != nil {
		return Frame{}, err
	}
	if frame.Kind != KindRoutedCommand {
		return Frame{}, fmt.Errorf("%w: expected %s, got %s", ErrUnknownKind, KindRoutedCommand, frame.Kind)
	}
	return frame, nil
}

// Encode builds the wire text of a routed command addressed to targetDeviceID.
// The result has no trailing newline; the session adds it on write.
func Encode(targetDeviceID, metricName, value string) string {
	return strings.Join([]string{targetDeviceID, string(KindRoutedCommand), metricName, value}, fieldDelimiter)
}

// EncodeFrame builds the three-field inbound form of a frame.
func EncodeFrame(kind Kind, metricName, value string) string {
	return strings.Join([]string{string(kind), metricName, value}, fieldDelimiter)
}

// ValidateField rejects values that would corrupt the line framing when
// written to a port.
func ValidateField(name, value string) error {
	if strings.TrimSpace(value) != value {
		return fmt.Errorf("%w: %s has surrounding whitespace", ErrInvalidField, name)
	}
	if strings.ContainsAny(value, fieldDelimiter+"\r\n") {
		return fmt.Errorf("%w: %s contains delimiter or line break", ErrInvalidField, name)
	}
	return nil
}
