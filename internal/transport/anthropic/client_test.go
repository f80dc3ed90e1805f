package anthropic

import (
	"context"
	"io"
	"testing"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routecodex/routecodex/internal/canonical"
	"github.com/routecodex/routecodex/internal/routeerr"
	"github.com/routecodex/routecodex/internal/transport"
)

type stubClient struct {
	lastParams sdk.MessageNewParams
	resp       *sdk.Message
	err        error
	events     []sdk.MessageStreamEventUnion
}

func (s *stubClient) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.lastParams = body
	return s.resp, s.err
}

func (s *stubClient) NewStreaming(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) StreamSource {
	s.lastParams = body
	return &stubStreamSource{events: s.events}
}

type stubStreamSource struct {
	events []sdk.MessageStreamEventUnion
	idx    int
}

func (s *stubStreamSource) Next() bool {
	if s.idx >= len(s.events) {
		return false
	}
	s.idx++
	return true
}
func (s *stubStreamSource) Current() sdk.MessageStreamEventUnion { return s.events[s.idx-1] }
func (s *stubStreamSource) Err() error                           { return nil }
func (s *stubStreamSource) Close() error                         { return nil }

func TestSendNonStreamingTranslatesTextResponse(t *testing.T) {
	stub := &stubClient{
		resp: &sdk.Message{
			Content: []sdk.ContentBlockUnion{
				{Type: "text", Text: "hello there"},
			},
			StopReason: sdk.StopReasonEndTurn,
			Usage:      sdk.Usage{InputTokens: 10, OutputTokens: 5},
		},
	}
	tr := New(stub, "claude-3-5-sonnet-latest")

	req := &canonical.ChatRequest{
		Messages: []*canonical.Message{
			{Role: canonical.RoleUser, Parts: []canonical.Part{canonical.TextPart{Text: "hi"}}},
		},
	}
	resp, stream, err := tr.Send(context.Background(), req, transport.SendOptions{})
	require.NoError(t, err)
	assert.Nil(t, stream)
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "hello there", resp.Content[0].Text())
	assert.Equal(t, canonical.FinishStop, resp.StopReason)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestSendClassifiesAuthFailure(t *testing.T) {
	stub := &stubClient{err: &sdk.Error{StatusCode: 401}}
	tr := New(stub, "claude-3-5-sonnet-latest")

	req := &canonical.ChatRequest{
		Messages: []*canonical.Message{
			{Role: canonical.RoleUser, Parts: []canonical.Part{canonical.TextPart{Text: "hi"}}},
		},
	}
	_, _, err := tr.Send(context.Background(), req, transport.SendOptions{})
	require.Error(t, err)
	assert.Equal(t, routeerr.KindAuth, routeerr.KindOf(err))
}

// countingClient wraps stubClient to fail a fixed number of times with a
// retryable status before succeeding, exercising Send's retry loop.
type countingClient struct {
	stubClient
	failures  int
	failWith  error
	succeeded *sdk.Message
}

func (c *countingClient) New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error) {
	if c.failures > 0 {
		c.failures--
		return nil, c.failWith
	}
	return c.succeeded, nil
}

func TestSendRetriesRetryableFailureThenSucceeds(t *testing.T) {
	stub := &countingClient{
		failures: 2,
		failWith: &sdk.Error{StatusCode: 503},
		succeeded: &sdk.Message{
			Content:    []sdk.ContentBlockUnion{{Type: "text", Text: "ok"}},
			StopReason: sdk.StopReasonEndTurn,
		},
	}
	tr := New(stub, "claude-3-5-sonnet-latest")
	tr.RetryPolicy = transport.RetryPolicy{MaxRetries: 3, BaseDelay: time.Nanosecond, Factor: 1, JitterFrac: 0.01}

	req := &canonical.ChatRequest{
		Messages: []*canonical.Message{
			{Role: canonical.RoleUser, Parts: []canonical.Part{canonical.TextPart{Text: "hi"}}},
		},
	}
	resp, _, err := tr.Send(context.Background(), req, transport.SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content[0].Text())
}

func TestSendExhaustsRetriesOnPersistentFailure(t *testing.T) {
	stub := &countingClient{failures: 99, failWith: &sdk.Error{StatusCode: 503}}
	tr := New(stub, "claude-3-5-sonnet-latest")
	tr.RetryPolicy = transport.RetryPolicy{MaxRetries: 2, BaseDelay: time.Nanosecond, Factor: 1, JitterFrac: 0.01}

	req := &canonical.ChatRequest{
		Messages: []*canonical.Message{
			{Role: canonical.RoleUser, Parts: []canonical.Part{canonical.TextPart{Text: "hi"}}},
		},
	}
	_, _, err := tr.Send(context.Background(), req, transport.SendOptions{})
	require.Error(t, err)
	assert.Equal(t, routeerr.KindUpstreamUnreachable, routeerr.KindOf(err))
}

func TestSendStreamingReturnsEOFOnEmptyStream(t *testing.T) {
	stub := &stubClient{events: nil}
	tr := New(stub, "claude-3-5-sonnet-latest")

	req := &canonical.ChatRequest{
		Stream: true,
		Messages: []*canonical.Message{
			{Role: canonical.RoleUser, Parts: []canonical.Part{canonical.TextPart{Text: "hi"}}},
		},
	}
	_, stream, err := tr.Send(context.Background(), req, transport.SendOptions{})
	require.NoError(t, err)
	require.NotNil(t, stream)
	defer stream.Close()

	_, err = stream.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}
