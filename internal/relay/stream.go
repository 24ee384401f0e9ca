package relay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/topanga/clawrelay/internal/observability"
)

// FrameKind classifies a relayed SSE frame.
type FrameKind int

const (
	FrameData FrameKind = iota
	FrameDone
	FrameError
)

func (k FrameKind) String() string {
	switch k {
	case FrameDone:
		return "done"
	case FrameError:
		return "error"
	default:
		return "data"
	}
}

const (
	sseDataPrefix = "data: "
	doneMarker    = "[DONE]"
)

// Frame is one server-sent event. Data is written as-is after "data: ".
type Frame struct {
	Kind FrameKind
	Data string
}

// Bytes renders the frame in SSE wire format.
func (f Frame) Bytes() []byte {
	return []byte(sseDataPrefix + f.Data + "\n\n")
}

func doneFrame() Frame {
	return Frame{Kind: FrameDone, Data: doneMarker}
}

// ErrorFrame builds the terminal {"error": msg} frame.
func ErrorFrame(msg string) Frame {
	b, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		b = []byte(`{"error":"stream error"}`)
	}
	return Frame{Kind: FrameError, Data: string(b)}
}

// Stream opens a streaming completion and returns the relayed frames as a
// lazy sequence. The only synchronous error is ErrMissingToken; every later
// failure (connect, non-2xx status, broken read) ends the sequence with one
// error frame. Each iteration opens a fresh gateway connection, and the
// connection is closed whenever the sequence ends, including when the
// consumer stops early.
func (c *Client) Stream(ctx context.Context, p Payload) (iter.Seq[Frame], error) {
	if c.gw.Token == "" {
		observability.UpstreamRequestsTotal.WithLabelValues("stream", observability.OutcomeNoToken).Inc()
		return nil, ErrMissingToken
	}

	p.Stream = true
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}

	return func(yield func(Frame) bool) {
		c.relay(ctx, body, yield)
	}, nil
}

func (c *Client) relay(ctx context.Context, body []byte, yield func(Frame) bool) {
	req, err := c.newRequest(ctx, http.MethodPost, c.baseURL+chatCompletionsPath, bytes.NewReader(body))
	if err != nil {
		yield(ErrorFrame(err.Error()))
		return
	}
	req.Header.Set("Accept", "text/event-stream")

	start := time.Now()
	resp, err := c.streamClient.Do(req)
	if err != nil {
		observability.UpstreamRequestsTotal.WithLabelValues("stream", observability.OutcomeUnreachable).Inc()
		yield(ErrorFrame(err.Error()))
		return
	}
	defer resp.Body.Close()
	observability.UpstreamLatency.WithLabelValues("stream").Observe(time.Since(start).Seconds())

	if !isSuccess(resp.StatusCode) {
		observability.UpstreamRequestsTotal.WithLabelValues("stream", observability.OutcomeRejected).Inc()
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			yield(ErrorFrame(fmt.Sprintf("reading gateway error body: %v", err)))
			return
		}
		yield(ErrorFrame(string(raw)))
		return
	}
	observability.UpstreamRequestsTotal.WithLabelValues("stream", observability.OutcomeOK).Inc()

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			// A partial line cut off by a broken connection is dropped.
			slog.Warn("gateway stream read failed", "error", err)
			yield(ErrorFrame(err.Error()))
			return
		}

		if frame, ok := parseLine(line); ok {
			if !yield(frame) || frame.Kind == FrameDone {
				return
			}
		}

		if err != nil {
			return
		}
	}
}

// parseLine maps one upstream line to a frame. Blank lines are skipped; the
// "data: " prefix is stripped when present and anything else is passed
// through verbatim.
func parseLine(line string) (Frame, bool) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return Frame{}, false
	}
	data := strings.TrimPrefix(line, sseDataPrefix)
	if data == doneMarker {
		return doneFrame(), true
	}
	return Frame{Kind: FrameData, Data: data}, true
}
