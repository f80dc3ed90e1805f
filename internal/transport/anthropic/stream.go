package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/routecodex/routecodex/internal/canonical"
	"github.com/routecodex/routecodex/internal/routeerr"
)

// streamer adapts a StreamSource of sdk.MessageStreamEventUnion into a
// transport.StreamHandle of canonical.Chunk.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	source StreamSource

	chunks chan canonical.Chunk

	mu       sync.Mutex
	finalErr error
}

func newStreamer(ctx context.Context, source StreamSource, nameMap map[string]string) *streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{
		ctx:    cctx,
		cancel: cancel,
		source: source,
		chunks: make(chan canonical.Chunk, 32),
	}
	go s.run(nameMap)
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

func (s *streamer) run(nameMap map[string]string) {
	defer close(s.chunks)
	defer func() {
		if s.source != nil {
			_ = s.source.Close()
		}
	}()

	proc := newChunkProcessor(s.emit, nameMap)
	for {
		select {
		case <-s.ctx.Done():
			s.setErr(routeerr.Wrap(routeerr.KindCancelled, component, "stream cancelled", s.ctx.Err()))
			return
		default:
		}
		if !s.source.Next() {
			if err := s.source.Err(); err != nil {
				s.setErr(routeerr.Wrap(routeerr.KindStreamInterrupted, component, "anthropic stream failed", err))
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

// chunkProcessor converts Anthropic streaming events into canonical.Chunks,
// tracking per-index tool-use and thinking block state across events
// (content block start/delta/stop events carry no cumulative state of
// their own).
type chunkProcessor struct {
	emit func(canonical.Chunk) error

	toolBlocks     map[int]*toolBuffer
	thinkingBlocks map[int]*thinkingBuffer
	nameMap        map[string]string

	stopReason string
}

func newChunkProcessor(emit func(canonical.Chunk) error, nameMap map[string]string) *chunkProcessor {
	return &chunkProcessor{
		emit:           emit,
		toolBlocks:     make(map[int]*toolBuffer),
		thinkingBlocks: make(map[int]*thinkingBuffer),
		nameMap:        nameMap,
	}
}

type toolBuffer struct {
	id        string
	name      string
	fragments []string
}

func (tb *toolBuffer) finalInput() string {
	joined := strings.Join(tb.fragments, "")
	if strings.TrimSpace(joined) == "" {
		return "{}"
	}
	return joined
}

type thinkingBuffer struct {
	text      strings.Builder
	signature string
}

func (p *chunkProcessor) handle(event sdk.MessageStreamEventUnion) error {
	switch ev := event.AsAny().(type) {
	case sdk.MessageStartEvent:
		p.toolBlocks = make(map[int]*toolBuffer)
		p.thinkingBlocks = make(map[int]*thinkingBuffer)
		p.stopReason = ""
		return nil

	case sdk.ContentBlockStartEvent:
		idx := int(ev.Index)
		if toolUse, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
			name := toolUse.Name
			if canon, ok := p.nameMap[name]; ok {
				name = canon
			}
			p.toolBlocks[idx] = &toolBuffer{id: toolUse.ID, name: name}
		}
		return nil

	case sdk.ContentBlockDeltaEvent:
		idx := int(ev.Index)
		switch delta := ev.Delta.AsAny().(type) {
		case sdk.TextDelta:
			if delta.Text == "" {
				return nil
			}
			return p.emit(canonical.Chunk{Type: canonical.ChunkText, Text: delta.Text})

		case sdk.InputJSONDelta:
			if delta.PartialJSON == "" {
				return nil
			}
			tb := p.toolBlocks[idx]
			if tb == nil {
				return nil
			}
			tb.fragments = append(tb.fragments, delta.PartialJSON)
			return p.emit(canonical.Chunk{
				Type: canonical.ChunkToolCallDelta,
				ToolCallDelta: &canonical.ToolCallDelta{
					ID:    tb.id,
					Name:  tb.name,
					Delta: delta.PartialJSON,
				},
			})

		case sdk.ThinkingDelta:
			if delta.Thinking == "" {
				return nil
			}
			tb := p.thinkingBlocks[idx]
			if tb == nil {
				tb = &thinkingBuffer{}
				p.thinkingBlocks[idx] = tb
			}
			tb.text.WriteString(delta.Thinking)
			return p.emit(canonical.Chunk{Type: canonical.ChunkReasoning, Reasoning: delta.Thinking})

		case sdk.SignatureDelta:
			if tb := p.thinkingBlocks[idx]; tb != nil {
				tb.signature = delta.Signature
			}
			return nil
		}
		return nil

	case sdk.ContentBlockStopEvent:
		idx := int(ev.Index)
		delete(p.thinkingBlocks, idx)
		if tb := p.toolBlocks[idx]; tb != nil {
			delete(p.toolBlocks, idx)
			var payload any
			_ = json.Unmarshal([]byte(tb.finalInput()), &payload)
			return p.emit(canonical.Chunk{
				Type: canonical.ChunkToolCall,
				ToolCall: &canonical.ToolCall{
					ID:      tb.id,
					Name:    tb.name,
					Payload: payload,
				},
			})
		}
		return nil

	case sdk.MessageDeltaEvent:
		p.stopReason = string(ev.Delta.StopReason)
		usage := canonical.TokenUsage{
			InputTokens:      int(ev.Usage.InputTokens),
			OutputTokens:     int(ev.Usage.OutputTokens),
			TotalTokens:      int(ev.Usage.InputTokens + ev.Usage.OutputTokens),
			CacheReadTokens:  int(ev.Usage.CacheReadInputTokens),
			CacheWriteTokens: int(ev.Usage.CacheCreationInputTokens),
		}
		return p.emit(canonical.Chunk{Type: canonical.ChunkUsage, UsageDelta: &usage})

	case sdk.MessageStopEvent:
		p.toolBlocks = make(map[int]*toolBuffer)
		p.thinkingBlocks = make(map[int]*thinkingBuffer)
		return p.emit(canonical.Chunk{Type: canonical.ChunkStop, StopReason: mapStopReason(p.stopReason)})
	}
	return nil
}
