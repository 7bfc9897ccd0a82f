package prompt

import (
	"os"
	"strings"
)

// ValueKind は置換値の種類
type ValueKind int

const (
	// KindLiteral はそのまま埋め込む文字列
	KindLiteral ValueKind = iota
	// KindFile は内容を読み込んで埋め込むファイルパス
	KindFile
)

// Value はプレースホルダに対応する置換値
type Value struct {
	Kind ValueKind
	Text string
}

// Literal はリテラル値を作成する
func Literal(text string) Value {
	return Value{Kind: KindLiteral, Text: text}
}

// FileRef はファイル参照値を作成する
func FileRef(path string) Value {
	return Value{Kind: KindFile, Text: path}
}

// Substitutions はプレースホルダ名から置換値への対応
type Substitutions map[string]Value

// Classifier は生の文字列をリテラルかファイル参照かに振り分ける
type Classifier func(raw string) Value

// LiteralClassifier は常にリテラルとして扱う
func LiteralClassifier(raw string) Value {
	return Literal(raw)
}

// FilesystemClassifier は既存の通常ファイルを指す値をファイル参照として扱う
func FilesystemClassifier(raw string) Value {
	if raw == "" {
		return Literal(raw)
	}
	info, err := os.Stat(raw)
	if err == nil && info.Mode().IsRegular() {
		return FileRef(raw)
	}
	return Literal(raw)
}

// Classify は文字列の対応表を Substitutions に変換する
func Classify(raw map[string]string, classify Classifier) Substitutions {
	if classify == nil {
		classify = LiteralClassifier
	}
	subs := make(Substitutions, len(raw))
	for k, v := range raw {
		subs[k] = classify(v)
	}
	return subs
}

// ParsePairs は "key1=value1,key2=value2" 形式の文字列を解析する。
// 最初の "=" で分割し、"=" を含まない項目は無視する。
func ParsePairs(s string) map[string]string {
	pairs := make(map[string]string)
	if strings.TrimSpace(s) == "" {
		return pairs
	}
	for _, item := range strings.Split(s, ",") {
		key, value, found := strings.Cut(item, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		pairs[key] = strings.TrimSpace(value)
	}
	return pairs
}
