package openaicompat

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routecodex/routecodex/internal/canonical"
	"github.com/routecodex/routecodex/internal/routeerr"
	"github.com/routecodex/routecodex/internal/transport"
)

type stubChat struct {
	lastParams openai.ChatCompletionNewParams
	resp       *openai.ChatCompletion
	err        error
	events     []openai.ChatCompletionChunk
}

func (s *stubChat) New(_ context.Context, body openai.ChatCompletionNewParams, _ ...option.RequestOption) (*openai.ChatCompletion, error) {
	s.lastParams = body
	return s.resp, s.err
}

func (s *stubChat) NewStreaming(_ context.Context, body openai.ChatCompletionNewParams, _ ...option.RequestOption) StreamSource {
	s.lastParams = body
	return &stubStreamSource{events: s.events}
}

type stubStreamSource struct {
	events []openai.ChatCompletionChunk
	idx    int
}

func (s *stubStreamSource) Next() bool {
	if s.idx >= len(s.events) {
		return false
	}
	s.idx++
	return true
}
func (s *stubStreamSource) Current() openai.ChatCompletionChunk { return s.events[s.idx-1] }
func (s *stubStreamSource) Err() error                          { return nil }
func (s *stubStreamSource) Close() error                        { return nil }

func req() *canonical.ChatRequest {
	return &canonical.ChatRequest{
		Messages: []*canonical.Message{
			{Role: canonical.RoleUser, Parts: []canonical.Part{canonical.TextPart{Text: "hi"}}},
		},
	}
}

func TestSendNonStreamingTranslatesTextResponse(t *testing.T) {
	stub := &stubChat{
		resp: &openai.ChatCompletion{
			Choices: []openai.ChatCompletionChoice{
				{
					Message:      openai.ChatCompletionMessage{Content: "hello there"},
					FinishReason: "stop",
				},
			},
			Usage: openai.CompletionUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		},
	}
	tr := New(stub, "gpt-4o-mini")

	resp, stream, err := tr.Send(context.Background(), req(), transport.SendOptions{})
	require.NoError(t, err)
	assert.Nil(t, stream)
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "hello there", resp.Content[0].Text())
	assert.Equal(t, canonical.FinishStop, resp.StopReason)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestSendClassifiesRetryableRateLimit(t *testing.T) {
	stub := &stubChat{err: &openai.Error{StatusCode: 429}}
	tr := New(stub, "gpt-4o-mini")
	tr.RetryPolicy = transport.RetryPolicy{MaxRetries: 1, BaseDelay: time.Nanosecond, Factor: 1, JitterFrac: 0.01}

	_, _, err := tr.Send(context.Background(), req(), transport.SendOptions{})
	require.Error(t, err)
	rcErr, ok := routeerr.As(err)
	require.True(t, ok)
	assert.Equal(t, routeerr.KindUpstreamUnreachable, rcErr.Kind())
	assert.True(t, rcErr.Retryable())
}

type countingChat struct {
	stubChat
	failures  int
	failWith  error
	succeeded *openai.ChatCompletion
}

func (c *countingChat) New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	if c.failures > 0 {
		c.failures--
		return nil, c.failWith
	}
	return c.succeeded, nil
}

func TestSendRetriesRetryableFailureThenSucceeds(t *testing.T) {
	stub := &countingChat{
		failures: 2,
		failWith: &openai.Error{StatusCode: 503},
		succeeded: &openai.ChatCompletion{
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Content: "ok"}, FinishReason: "stop"},
			},
		},
	}
	tr := New(stub, "gpt-4o-mini")
	tr.RetryPolicy = transport.RetryPolicy{MaxRetries: 3, BaseDelay: time.Nanosecond, Factor: 1, JitterFrac: 0.01}

	resp, _, err := tr.Send(context.Background(), req(), transport.SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content[0].Text())
}

func TestSendExhaustsRetriesOnPersistentFailure(t *testing.T) {
	stub := &countingChat{failures: 99, failWith: &openai.Error{StatusCode: 503}}
	tr := New(stub, "gpt-4o-mini")
	tr.RetryPolicy = transport.RetryPolicy{MaxRetries: 2, BaseDelay: time.Nanosecond, Factor: 1, JitterFrac: 0.01}

	_, _, err := tr.Send(context.Background(), req(), transport.SendOptions{})
	require.Error(t, err)
	assert.Equal(t, routeerr.KindUpstreamUnreachable, routeerr.KindOf(err))
}

func TestSendStreamingEmitsEOFOnEmptyStream(t *testing.T) {
	stub := &stubChat{events: nil}
	tr := New(stub, "gpt-4o-mini")

	r := req()
	r.Stream = true
	_, stream, err := tr.Send(context.Background(), r, transport.SendOptions{})
	require.NoError(t, err)
	require.NotNil(t, stream)
	defer stream.Close()

	_, err = stream.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}
