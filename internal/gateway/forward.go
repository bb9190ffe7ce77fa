package gateway

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	app_errors "fm-serve/internal/errors"
)

// ForwardStats summarizes a forwarded request for the request log.
type ForwardStats struct {
	StatusCode       int
	IsStream         bool
	PromptTokens     int
	CompletionTokens int
	CachedTokens     int
}

// ForwardChatCompletion passes a chat completion request through to a remote
// backend unchanged, apart from authentication and the model id when the
// client addressed the backend with the "backend/model" form. Streaming
// responses are relayed chunk by chunk.
func (g *Gateway) ForwardChatCompletion(c *gin.Context, target Target, body []byte) (*ForwardStats, *app_errors.APIError) {
	remote := target.Remote
	stats := &ForwardStats{IsStream: gjson.GetBytes(body, "stream").Bool()}

	if requested := gjson.GetBytes(body, "model").String(); requested != target.UpstreamModel {
		rewritten, err := sjson.SetBytes(body, "model", target.UpstreamModel)
		if err != nil {
			return stats, app_errors.NewAPIError(app_errors.ErrInternalServer, "failed to rewrite model")
		}
		body = rewritten
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, remote.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return stats, app_errors.NewAPIError(app_errors.ErrInternalServer, "failed to build upstream request")
	}
	req.Header.Set("Content-Type", "application/json")
	if remote.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+remote.APIKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		logrus.WithFields(logrus.Fields{"backend": remote.Name, "error": err}).Error("Upstream request failed")
		return stats, app_errors.NewAPIError(app_errors.ErrBadGateway, "backend unreachable: "+remote.Name)
	}
	defer resp.Body.Close()
	stats.StatusCode = resp.StatusCode

	for _, header := range []string{"Content-Type", "Content-Encoding", "Cache-Control"} {
		if v := resp.Header.Get(header); v != "" {
			c.Header(header, v)
		}
	}
	c.Status(resp.StatusCode)

	if stats.IsStream && resp.StatusCode == http.StatusOK {
		g.relayStream(c, resp, stats)
		return stats, nil
	}
	g.relayBody(c, resp, stats)
	return stats, nil
}

// relayStream copies SSE bytes as they arrive, extracting usage from the
// chunks that carry it.
func (g *Gateway) relayStream(c *gin.Context, resp *http.Response, stats *ForwardStats) {
	c.Header("X-Accel-Buffering", "no")
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		logrus.Error("Streaming unsupported by the writer, relaying as one body")
		g.relayBody(c, resp, stats)
		return
	}

	var tail bytes.Buffer
	buf := make([]byte, 4*1024)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := c.Writer.Write(buf[:n]); writeErr != nil {
				logrus.WithField("error", writeErr).Debug("Client went away during stream relay")
				return
			}
			flusher.Flush()
			captureTail(&tail, buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			logrus.WithField("error", err).Warn("Upstream stream broke")
			return
		}
	}
	extractStreamUsage(tail.Bytes(), stats)
}

const usageTailBytes = 8 * 1024

// captureTail keeps the last few KB of the stream, enough to hold the final
// usage chunk.
func captureTail(tail *bytes.Buffer, data []byte) {
	tail.Write(data)
	if tail.Len() > usageTailBytes {
		trimmed := tail.Bytes()[tail.Len()-usageTailBytes:]
		rest := make([]byte, len(trimmed))
		copy(rest, trimmed)
		tail.Reset()
		tail.Write(rest)
	}
}

func extractStreamUsage(tail []byte, stats *ForwardStats) {
	for _, line := range bytes.Split(tail, []byte("\n")) {
		payload, ok := bytes.CutPrefix(line, []byte("data: "))
		if !ok || len(payload) == 0 || bytes.Equal(payload, []byte("[DONE]")) {
			continue
		}
		if usage := gjson.GetBytes(payload, "usage"); usage.Exists() && usage.Type != gjson.Null {
			applyUsage(usage, stats)
		}
	}
}

// relayBody copies a non-streaming response to the client while reading the
// usage object out of a decoded copy.
func (g *Gateway) relayBody(c *gin.Context, resp *http.Response, stats *ForwardStats) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		logrus.WithField("error", err).Warn("Failed to read upstream body")
		return
	}
	if _, err := c.Writer.Write(body); err != nil {
		logrus.WithField("error", err).Debug("Client went away during relay")
		return
	}

	decoded := body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		reader, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return
		}
		defer reader.Close()
		if decoded, err = io.ReadAll(reader); err != nil {
			return
		}
	}
	if usage := gjson.GetBytes(decoded, "usage"); usage.Exists() {
		applyUsage(usage, stats)
	}
}

func applyUsage(usage gjson.Result, stats *ForwardStats) {
	stats.PromptTokens = int(usage.Get("prompt_tokens").Int())
	stats.CompletionTokens = int(usage.Get("completion_tokens").Int())
	stats.CachedTokens = int(usage.Get("prompt_tokens_details.cached_tokens").Int())
}
