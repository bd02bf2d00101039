package flutter

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const probeTimeout = 10 * time.Second

var (
	// serviceURIPattern matches the line the Dart VM prints once its service is up.
	serviceURIPattern = regexp.MustCompile(`(?:Observatory listening on|Dart VM service is listening on) (https?://\S+)`)

	errUnsupportedScheme = errors.New("unsupported vm service scheme")
	errServiceError      = errors.New("vm service returned an error")
)

// ParseServiceURI extracts the VM service address from an application output line.
func ParseServiceURI(line string) (string, bool) {
	match := serviceURIPattern.FindStringSubmatch(line)
	if match == nil {
		return "", false
	}

	return match[1], true
}

// WebSocketURI converts an http VM service address into its websocket endpoint.
func WebSocketURI(serviceURI string) (string, error) {
	u, err := url.Parse(serviceURI)
	if err != nil {
		return "", fmt.Errorf("parse vm service uri: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedScheme, u.Scheme)
	}

	if !strings.HasSuffix(u.Path, "/ws") {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	}

	return u.String(), nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
}

type rpcResponse struct {
	ID     string `json:"id"`
	Result *struct {
		Major int `json:"major"`
		Minor int `json:"minor"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ServiceVersion is the protocol version a VM service reports.
type ServiceVersion struct {
	Major int
	Minor int
}

func (v ServiceVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// ProbeVMService asks the VM service for its protocol version, which tells
// the service is reachable before the flutter tool attaches to it.
func ProbeVMService(ctx context.Context, serviceURI string) (*ServiceVersion, error) {
	wsURI, err := WebSocketURI(serviceURI)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURI, nil)
	if err != nil {
		return nil, fmt.Errorf("dial vm service %s: %w", wsURI, err)
	}

	defer func() {
		_ = conn.Close()
	}()

	deadline, _ := ctx.Deadline()
	if err = conn.SetWriteDeadline(deadline); err != nil {
		return nil, err
	}

	if err = conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}

	if err = conn.WriteJSON(rpcRequest{JSONRPC: "2.0", ID: "1", Method: "getVersion"}); err != nil {
		return nil, fmt.Errorf("send getVersion: %w", err)
	}

	// The service may push stream events before answering.
	for {
		var response rpcResponse
		if err = conn.ReadJSON(&response); err != nil {
			return nil, fmt.Errorf("read getVersion: %w", err)
		}

		if response.ID != "1" {
			continue
		}

		if response.Error != nil {
			return nil, fmt.Errorf("%w: %d %s", errServiceError, response.Error.Code, response.Error.Message)
		}

		if response.Result == nil {
			return nil, fmt.Errorf("%w: empty result", errServiceError)
		}

		return &ServiceVersion{Major: response.Result.Major, Minor: response.Result.Minor}, nil
	}
}
