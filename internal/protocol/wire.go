package protocol

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// SpectatorTopic is the bus topic carrying delayed replay frames and ranking
// updates for privileged spectator sessions.
const SpectatorTopic = "admin"

// Input validation for path parameters. Numbers are capped at nine digits so
// parsed values always fit an int64 comfortably.
var (
	ValidToken  = regexp.MustCompile(`^[0-9a-z]+$`)
	ValidNumber = regexp.MustCompile(`^([0-9]|[1-9][0-9]{1,8})$`)
)

// FormatCoord renders a coordinate in the shortest round-trippable form.
func FormatCoord(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// EncodeRecord renders a path as "now x y t x y t ...". Records are stored
// verbatim per agent and replayed for spectators.
func EncodeRecord(now int64, move []Waypoint) string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(now, 10))
	for _, w := range move {
		b.WriteByte(' ')
		b.WriteString(FormatCoord(w.X))
		b.WriteByte(' ')
		b.WriteString(FormatCoord(w.Y))
		b.WriteByte(' ')
		b.WriteString(strconv.FormatInt(w.T, 10))
	}
	return b.String()
}

// Bus frame constructors. Frames travel on the per-user topics: 'M' carries a
// committed move record, 'C' marks a session takeover, 'R' wraps a ranking
// JSON payload, and 'U' tells spectator sessions a replay tick is ready.

func MoveFrame(idx int, record string) []byte {
	return []byte("M" + strconv.Itoa(idx) + " " + record)
}

func ConnectFrame(connectTime int64) []byte {
	return []byte("C" + strconv.FormatInt(connectTime, 10))
}

func RankingFrame(payload []byte) []byte {
	return append([]byte{'R'}, payload...)
}

func UpdateFrame() []byte {
	return []byte{'U'}
}

// ParseRecord is the inverse of EncodeRecord.
func ParseRecord(record string) (now int64, move []Waypoint, err error) {
	fields := strings.Fields(record)
	if len(fields) == 0 || len(fields)%3 != 1 {
		return 0, nil, fmt.Errorf("malformed record %q", record)
	}
	now, err = strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("malformed record %q: %w", record, err)
	}
	move, err = parseWaypoints(fields[1:])
	if err != nil {
		return 0, nil, fmt.Errorf("malformed record %q: %w", record, err)
	}
	return now, move, nil
}

// ParseMoveFrame decodes an 'M' frame into its agent index, the commit time,
// and the path.
func ParseMoveFrame(msg []byte) (idx int64, now int64, move []Waypoint, err error) {
	fields := strings.Fields(string(msg[1:]))
	if len(fields) < 2 || len(fields)%3 != 2 {
		return 0, 0, nil, fmt.Errorf("malformed move frame %q", msg)
	}
	idx, err = strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("malformed move frame %q: %w", msg, err)
	}
	now, err = strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("malformed move frame %q: %w", msg, err)
	}
	move, err = parseWaypoints(fields[2:])
	if err != nil {
		return 0, 0, nil, fmt.Errorf("malformed move frame %q: %w", msg, err)
	}
	return idx, now, move, nil
}

// ParseConnectFrame decodes a 'C' frame into its connect time.
func ParseConnectFrame(msg []byte) (int64, error) {
	return strconv.ParseInt(string(msg[1:]), 10, 64)
}

func parseWaypoints(fields []string) ([]Waypoint, error) {
	move := make([]Waypoint, 0, len(fields)/3)
	for i := 0; i+2 < len(fields); i += 3 {
		x, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return nil, err
		}
		y, err := strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return nil, err
		}
		t, err := strconv.ParseInt(fields[i+2], 10, 64)
		if err != nil {
			return nil, err
		}
		move = append(move, Waypoint{X: x, Y: y, T: t})
	}
	return move, nil
}
