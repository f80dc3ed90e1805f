package openaicompat

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/openai/openai-go"

	"github.com/routecodex/routecodex/internal/canonical"
	"github.com/routecodex/routecodex/internal/routeerr"
)

// streamer adapts a StreamSource of openai.ChatCompletionChunk into a
// transport.StreamHandle of canonical.Chunk.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	source StreamSource

	chunks chan canonical.Chunk

	mu       sync.Mutex
	finalErr error
}

func newStreamer(ctx context.Context, source StreamSource) *streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{
		ctx:    cctx,
		cancel: cancel,
		source: source,
		chunks: make(chan canonical.Chunk, 32),
	}
	go s.run()
	return s
}

func (s *streamer) Next(ctx context.Context) (*canonical.Chunk, error) {
	select {
	case chunk, ok := <-s.chunks:
		if !ok {
			if err := s.err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		return &chunk, nil
	case <-ctx.Done():
		return nil, routeerr.Wrap(routeerr.KindCancelled, component, "stream cancelled", ctx.Err())
	}
}

func (s *streamer) Close() error {
	s.cancel()
	if s.source == nil {
		return nil
	}
	return s.source.Close()
}

func (s *streamer) run() {
	defer close(s.chunks)
	defer func() {
		if s.source != nil {
			_ = s.source.Close()
		}
	}()

	proc := newChunkProcessor(s.emit)
	for {
		select {
		case <-s.ctx.Done():
			s.setErr(routeerr.Wrap(routeerr.KindCancelled, component, "stream cancelled", s.ctx.Err()))
			return
		default:
		}
		if !s.source.Next() {
			if err := s.source.Err(); err != nil {
				s.setErr(routeerr.Wrap(routeerr.KindStreamInterrupted, component, "openai-compat stream failed", err))
			}
			return
		}
		if err := proc.handle(s.source.Current()); err != nil {
			s.setErr(err)
			return
		}
	}
}

func (s *streamer) emit(c canonical.Chunk) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case s.chunks <- c:
		return nil
	}
}

func (s *streamer) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalErr == nil {
		s.finalErr = err
	}
}

func (s *streamer) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalErr
}

// chunkProcessor converts ChatCompletionChunk deltas into canonical.Chunks.
// Tool-call arguments stream as index-keyed fragments per the OpenAI wire
// format; a per-index buffer tracks accumulated id/name/arguments so a
// complete ChunkToolCall can be emitted once the index's fragments stop
// arriving (signaled by a terminal finish_reason).
type chunkProcessor struct {
	emit func(canonical.Chunk) error

	toolCalls map[int64]*toolCallBuffer
}

func newChunkProcessor(emit func(canonical.Chunk) error) *chunkProcessor {
	return &chunkProcessor{emit: emit, toolCalls: make(map[int64]*toolCallBuffer)}
}

type toolCallBuffer struct {
	id        string
	name      string
	fragments strings.Builder
}

func (p *chunkProcessor) handle(chunk openai.ChatCompletionChunk) error {
	if chunk.Usage.TotalTokens > 0 {
		usage := canonical.TokenUsage{
			InputTokens:  int(chunk.Usage.PromptTokens),
			OutputTokens: int(chunk.Usage.CompletionTokens),
			TotalTokens:  int(chunk.Usage.TotalTokens),
		}
		if err := p.emit(canonical.Chunk{Type: canonical.ChunkUsage, UsageDelta: &usage}); err != nil {
			return err
		}
	}
	if len(chunk.Choices) == 0 {
		return nil
	}
	choice := chunk.Choices[0]

	if choice.Delta.Content != "" {
		if err := p.emit(canonical.Chunk{Type: canonical.ChunkText, Text: choice.Delta.Content}); err != nil {
			return err
		}
	}

	for _, tc := range choice.Delta.ToolCalls {
		tb := p.toolCalls[tc.Index]
		if tb == nil {
			tb = &toolCallBuffer{}
			p.toolCalls[tc.Index] = tb
		}
		if tc.ID != "" {
			tb.id = tc.ID
		}
		if tc.Function.Name != "" {
			tb.name = tc.Function.Name
		}
		if tc.Function.Arguments != "" {
			tb.fragments.WriteString(tc.Function.Arguments)
			if err := p.emit(canonical.Chunk{
				Type: canonical.ChunkToolCallDelta,
				ToolCallDelta: &canonical.ToolCallDelta{
					ID:    tb.id,
					Name:  tb.name,
					Delta: tc.Function.Arguments,
				},
			}); err != nil {
				return err
			}
		}
	}

	if choice.FinishReason == "" {
		return nil
	}

	for idx, tb := range p.toolCalls {
		var payload any
		_ = json.Unmarshal([]byte(tb.fragments.String()), &payload)
		if err := p.emit(canonical.Chunk{
			Type: canonical.ChunkToolCall,
			ToolCall: &canonical.ToolCall{
				ID:      tb.id,
				Name:    tb.name,
				Payload: payload,
			},
		}); err != nil {
			return err
		}
		delete(p.toolCalls, idx)
	}

	return p.emit(canonical.Chunk{Type: canonical.ChunkStop, StopReason: mapFinishReason(string(choice.FinishReason))})
}
