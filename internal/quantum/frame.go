// Package quantum implements the line-oriented ASCII command protocol of the
// DigiVac Quantum DPP series vacuum gauge, plus real and simulated device
// adapters over it.
//
// The wire protocol is half duplex: one addressed command, one response,
// always in that order. Outgoing commands look like "@253P?\r\n"; responses
// look like "ACK7.4601E+02\r\n", optionally prefixed by an "@<address>" echo
// depending on firmware revision.
package quantum

import (
	"fmt"
	"strconv"
	"strings"
)

// Terminator is the fixed line ending the firmware expects on every command.
const Terminator = "\r\n"

// AckTag prefixes every successful response payload.
const AckTag = "ACK"

// Format prepends the device address and appends the terminator to an
// outgoing payload.
func Format(address int, payload string) string {
	return fmt.Sprintf("@%d%s%s", address, payload, Terminator)
}

// UnwrapResponse strips terminator remnants and, if present, a leading
// "@<digits>" address echo from a raw response line. Some firmware revisions
// echo the address back and some do not, so both shapes must be accepted.
func UnwrapResponse(raw string) string {
	payload := strings.TrimSpace(raw)

	if strings.HasPrefix(payload, "@") {
		rest := payload[1:]
		i := 0
		for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
			i++
		}
		if i > 0 {
			payload = rest[i:]
		}
	}

	return payload
}

// ParseAck verifies that payload starts with the given acknowledgment tag
// (AckTag if empty) and returns the remainder with surrounding whitespace
// removed.
func ParseAck(payload, tag string) (string, error) {
	if tag == "" {
		tag = AckTag
	}
	if !strings.HasPrefix(payload, tag) {
		return "", fmt.Errorf("%w: %q", ErrUnexpectedResponse, payload)
	}
	return strings.TrimSpace(payload[len(tag):]), nil
}

// ParseAckFloat parses an "ACK<value>" payload into a float64. Scientific
// notation such as "7.4601E+02" is accepted.
func ParseAckFloat(payload string) (float64, error) {
	body, err := ParseAck(payload, AckTag)
	if err != nil {
		return 0, err
	}

	value, err := strconv.ParseFloat(body, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedValue, body)
	}
	return value, nil
}
