package quantum

import "errors"

// Sentinel errors for the device protocol layer. Callers match with
// errors.Is; the wrapped messages carry port/response detail.
var (
	// ErrConnectFailed indicates the transport could not be opened.
	ErrConnectFailed = errors.New("connect failed")

	// ErrNotConnected indicates an operation was attempted before Connect
	// or after Disconnect.
	ErrNotConnected = errors.New("device not connected")

	// ErrNoResponse indicates the device did not reply within the
	// transport's read timeout.
	ErrNoResponse = errors.New("no response from device")

	// ErrUnexpectedResponse indicates a reply that does not start with the
	// expected acknowledgment tag.
	ErrUnexpectedResponse = errors.New("unexpected response")

	// ErrMalformedValue indicates an acknowledged reply whose payload could
	// not be parsed as a number.
	ErrMalformedValue = errors.New("malformed numeric value")

	// ErrUnitSwitchFailed indicates the post-write verify of a unit change
	// did not report the requested unit.
	ErrUnitSwitchFailed = errors.New("unit switch failed")
)
