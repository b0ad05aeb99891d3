package trackermux

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/num/quat"

	"github.com/meridian-robotics/areatrack/internal/tracker"
)

// The module speaks a line protocol over the serial link. Unsolicited stream
// lines carry poses and events:
//
//	P <pair> <ts> <tx> <ty> <tz> <qx> <qy> <qz> <qw> <status>
//	E <ts> <type> <key> <value...>
//
// Command replies are tagged with the command mnemonic ("LS:<blob>",
// "SV:OK:<uuid>", "MP:ERR:<code>"). Metadata travels as query-escaped
// key=value pairs joined with ";".

// Frame pair wire tokens.
const (
	pairTokenStartToDevice = "SD"
	pairTokenAreaToDevice  = "AD"
	pairTokenAreaToStart   = "AS"
)

// PairToken returns the wire token for a frame pair.
func PairToken(p tracker.FramePair) string {
	switch p {
	case tracker.StartToDevice:
		return pairTokenStartToDevice
	case tracker.AreaToDevice:
		return pairTokenAreaToDevice
	case tracker.AreaToStart:
		return pairTokenAreaToStart
	default:
		return "??"
	}
}

// ParsePairToken resolves a wire token to a frame pair.
func ParsePairToken(tok string) (tracker.FramePair, error) {
	switch tok {
	case pairTokenStartToDevice:
		return tracker.StartToDevice, nil
	case pairTokenAreaToDevice:
		return tracker.AreaToDevice, nil
	case pairTokenAreaToStart:
		return tracker.AreaToStart, nil
	default:
		return 0, fmt.Errorf("unknown frame pair token %q", tok)
	}
}

func statusToken(s tracker.PoseStatus) string {
	switch s {
	case tracker.PoseValid:
		return "V"
	case tracker.PoseInvalid:
		return "I"
	default:
		return "U"
	}
}

func parseStatusToken(tok string) (tracker.PoseStatus, error) {
	switch tok {
	case "V":
		return tracker.PoseValid, nil
	case "I":
		return tracker.PoseInvalid, nil
	case "U":
		return tracker.PoseUnknown, nil
	default:
		return 0, fmt.Errorf("unknown pose status token %q", tok)
	}
}

func eventTypeToken(t tracker.EventType) string {
	switch t {
	case tracker.EventAreaLearning:
		return "AL"
	case tracker.EventService:
		return "SV"
	case tracker.EventFeature:
		return "FT"
	default:
		return "??"
	}
}

func parseEventTypeToken(tok string) (tracker.EventType, error) {
	switch tok {
	case "AL":
		return tracker.EventAreaLearning, nil
	case "SV":
		return tracker.EventService, nil
	case "FT":
		return tracker.EventFeature, nil
	default:
		return 0, fmt.Errorf("unknown event type token %q", tok)
	}
}

// ParsePoseLine decodes one "P ..." stream line.
func ParsePoseLine(line string) (tracker.Pose, error) {
	fields := strings.Fields(line)
	if len(fields) != 11 || fields[0] != "P" {
		return tracker.Pose{}, fmt.Errorf("malformed pose line %q", line)
	}

	pair, err := ParsePairToken(fields[1])
	if err != nil {
		return tracker.Pose{}, err
	}

	var nums [8]float64
	for i := range nums {
		nums[i], err = strconv.ParseFloat(fields[2+i], 64)
		if err != nil {
			return tracker.Pose{}, fmt.Errorf("bad number in pose line field %d: %v", 2+i, err)
		}
	}

	status, err := parseStatusToken(fields[10])
	if err != nil {
		return tracker.Pose{}, err
	}

	p := tracker.Pose{
		Pair:      pair,
		Timestamp: nums[0],
		Status:    status,
	}
	p.Transform.Translation = [3]float64{nums[1], nums[2], nums[3]}
	p.Transform.Orientation = quat.Number{Imag: nums[4], Jmag: nums[5], Kmag: nums[6], Real: nums[7]}
	return p, nil
}

// FormatPoseLine encodes a pose as a "P ..." stream line.
func FormatPoseLine(p tracker.Pose) string {
	q := p.Transform.Orientation
	return fmt.Sprintf("P %s %.6f %.6f %.6f %.6f %.6f %.6f %.6f %.6f %s",
		PairToken(p.Pair), p.Timestamp,
		p.Transform.Translation[0], p.Transform.Translation[1], p.Transform.Translation[2],
		q.Imag, q.Jmag, q.Kmag, q.Real,
		statusToken(p.Status))
}

// ParseEventLine decodes one "E ..." stream line. The value is the remainder
// of the line and may contain spaces; it is empty when absent.
func ParseEventLine(line string) (tracker.Event, error) {
	parts := strings.SplitN(line, " ", 5)
	if len(parts) < 4 || parts[0] != "E" {
		return tracker.Event{}, fmt.Errorf("malformed event line %q", line)
	}

	ts, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return tracker.Event{}, fmt.Errorf("bad event timestamp: %v", err)
	}
	typ, err := parseEventTypeToken(parts[2])
	if err != nil {
		return tracker.Event{}, err
	}

	e := tracker.Event{Type: typ, Key: parts[3], Timestamp: ts}
	if len(parts) == 5 {
		e.Value = parts[4]
	}
	return e, nil
}

// FormatEventLine encodes an event as an "E ..." stream line.
func FormatEventLine(e tracker.Event) string {
	line := fmt.Sprintf("E %.6f %s %s", e.Timestamp, eventTypeToken(e.Type), e.Key)
	if e.Value != "" {
		line += " " + e.Value
	}
	return line
}

// EncodeMetadata renders a metadata handle as query-escaped key=value pairs
// joined with ";", preserving key order.
func EncodeMetadata(m *tracker.Metadata) string {
	if m == nil {
		return ""
	}
	pairs := make([]string, 0, m.Len())
	for _, k := range m.Keys() {
		v, _ := m.Get(k)
		pairs = append(pairs, url.QueryEscape(k)+"="+url.QueryEscape(v))
	}
	return strings.Join(pairs, ";")
}

// DecodeMetadata parses the wire form produced by EncodeMetadata.
func DecodeMetadata(s string) (*tracker.Metadata, error) {
	m := tracker.NewMetadata()
	if s == "" {
		return m, nil
	}
	for _, pair := range strings.Split(s, ";") {
		if pair == "" {
			continue
		}
		k, v, found := strings.Cut(pair, "=")
		if !found {
			return nil, fmt.Errorf("malformed metadata pair %q", pair)
		}
		key, err := url.QueryUnescape(k)
		if err != nil {
			return nil, fmt.Errorf("malformed metadata key %q: %v", k, err)
		}
		value, err := url.QueryUnescape(v)
		if err != nil {
			return nil, fmt.Errorf("malformed metadata value for %q: %v", key, err)
		}
		if err := m.Set(key, value); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// FormatConnectCommand renders session options as a CN command line.
func FormatConnectCommand(opts tracker.ConnectOptions) string {
	learning := 0
	if opts.LearningMode {
		learning = 1
	}
	parts := []string{"CN", fmt.Sprintf("L=%d", learning)}
	if opts.LoadMapUUID != "" {
		parts = append(parts, "M="+opts.LoadMapUUID)
	}
	if len(opts.FramePairs) > 0 {
		toks := make([]string, len(opts.FramePairs))
		for i, p := range opts.FramePairs {
			toks[i] = PairToken(p)
		}
		parts = append(parts, "F="+strings.Join(toks, ","))
	}
	return strings.Join(parts, " ")
}

// codeUnknownMap is the store's error code for an unresolvable uuid.
const codeUnknownMap = 1

// replyPayload strips the command tag from a reply line and converts an ERR
// reply into a typed error.
func replyPayload(tag, reply string) (string, error) {
	body, found := strings.CutPrefix(reply, tag+":")
	if !found {
		return "", fmt.Errorf("reply %q does not match command %s", reply, tag)
	}
	code, isErr := strings.CutPrefix(body, "ERR:")
	if !isErr {
		return body, nil
	}
	n, err := strconv.Atoi(code)
	if err != nil {
		return "", fmt.Errorf("malformed %s error reply %q", tag, reply)
	}
	if n == codeUnknownMap {
		return "", tracker.ErrUnknownMap
	}
	return "", &tracker.StoreRejectedError{Code: n}
}

// replyOK strips the tag and the OK marker, returning any trailing payload.
func replyOK(tag, reply string) (string, error) {
	body, err := replyPayload(tag, reply)
	if err != nil {
		return "", err
	}
	if body == "OK" {
		return "", nil
	}
	rest, found := strings.CutPrefix(body, "OK:")
	if !found {
		return "", fmt.Errorf("unexpected %s reply %q", tag, reply)
	}
	return rest, nil
}
