package generation

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// Phase はストリームの進行段階
type Phase int

const (
	// PhaseReasoning は推論トークンの受信中
	PhaseReasoning Phase = iota
	// PhaseContent は回答トークンの受信中
	PhaseContent
	// PhaseDone はストリームの終了
	PhaseDone
)

// ProgressEvent はストリーム受信中の進捗
type ProgressEvent struct {
	Phase Phase
	// Delta は今回受信した差分
	Delta string
	// Preview は表示用の直近テキスト
	Preview string
}

// ProgressSink は進捗を受け取る。戻り値に影響を与えてはならない。
type ProgressSink interface {
	OnProgress(ProgressEvent)
}

// NopProgress は何もしない ProgressSink
type NopProgress struct{}

// OnProgress は何もしない
func (NopProgress) OnProgress(ProgressEvent) {}

const consoleWidth = 100

// ConsoleProgress は1行を上書きしながら進捗を表示する
type ConsoleProgress struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsoleProgress は新しい ConsoleProgress を作成する
func NewConsoleProgress(w io.Writer) *ConsoleProgress {
	return &ConsoleProgress{w: w}
}

// OnProgress は現在の段階とプレビューを表示する
func (c *ConsoleProgress) OnProgress(ev ProgressEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var line string
	switch ev.Phase {
	case PhaseReasoning:
		line = "[思考中] " + ev.Delta
	case PhaseContent:
		line = "[生成] " + ev.Preview
	case PhaseDone:
		fmt.Fprintln(c.w)
		return
	}

	line = strings.ReplaceAll(line, "\n", " ")
	if r := []rune(line); len(r) > consoleWidth {
		line = string(r[:consoleWidth])
	}
	fmt.Fprint(c.w, "\r"+strings.Repeat(" ", consoleWidth)+"\r"+line)
}
