package openai

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// EventKind はストリームイベントの種類
type EventKind int

const (
	// EventReasoning は推論トークンの差分
	EventReasoning EventKind = iota
	// EventContent は回答トークンの差分
	EventContent
	// EventFinished は終了シグナル
	EventFinished
)

const (
	dataPrefix = "data:"
	stopReason = "stop"
)

// StreamEvent はフレームから取り出したイベント
type StreamEvent struct {
	Kind EventKind
	Text string
}

type chunkFrame struct {
	Choices []struct {
		Delta struct {
			ReasoningContent string `json:"reasoning_content"`
			Content          string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// FrameDecoder は改行区切りのイベントフレームを読み取る。
// JSONとして解釈できないフレームは読み飛ばす。
type FrameDecoder struct {
	r *bufio.Reader
}

// NewFrameDecoder は新しい FrameDecoder を作成する
func NewFrameDecoder(r io.Reader) *FrameDecoder {
	return &FrameDecoder{r: bufio.NewReader(r)}
}

// Next は次の1フレームを読み、そのフレームに含まれるイベントを返す。
// 空行や壊れたフレームでは空のスライスを返す。ストリーム終端では io.EOF を返す。
func (d *FrameDecoder) Next() ([]StreamEvent, error) {
	line, err := d.r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			if strings.TrimSpace(line) == "" {
				return nil, io.EOF
			}
			// 改行なしで終わった最後のフレーム
			return ParseFrame(line), nil
		}
		return nil, err
	}
	return ParseFrame(line), nil
}

// ParseFrame は1行分のフレームをイベントに変換する
func ParseFrame(line string) []StreamEvent {
	payload := strings.TrimSpace(line)
	payload = strings.TrimSpace(strings.TrimPrefix(payload, dataPrefix))
	if payload == "" {
		return nil
	}

	var f chunkFrame
	if err := json.Unmarshal([]byte(payload), &f); err != nil {
		return nil
	}
	if len(f.Choices) == 0 {
		return nil
	}

	choice := f.Choices[0]
	var events []StreamEvent
	if choice.Delta.ReasoningContent != "" {
		events = append(events, StreamEvent{Kind: EventReasoning, Text: choice.Delta.ReasoningContent})
	}
	if choice.Delta.Content != "" {
		events = append(events, StreamEvent{Kind: EventContent, Text: choice.Delta.Content})
	}
	if choice.FinishReason != nil && *choice.FinishReason == stopReason {
		events = append(events, StreamEvent{Kind: EventFinished})
	}
	return events
}
