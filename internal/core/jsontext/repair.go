package jsontext

import (
	"regexp"
	"strings"
)

var (
	// キーの直後にコロンが続く裸の識別子
	bareKeyPattern = regexp.MustCompile(`(\s*)([a-zA-Z0-9_]+)(\s*):(\s*)`)
	// 行末にある裸の値（末尾カンマは任意）
	bareLineValuePattern = regexp.MustCompile(`:(\s*)([a-zA-Z0-9_]+)(\s*)(,?)(\s*)$`)
	// 配列先頭の裸の要素
	bareArrayHeadPattern = regexp.MustCompile(`\[(\s*)([a-zA-Z0-9_]+)(\s*)(,?)(\s*)`)
	// 配列末尾（] の直前）の裸の要素
	bareArrayTailPattern = regexp.MustCompile(`(\s*)([a-zA-Z0-9_]+)(\s*)(,?)(\s*)\]`)
	// カンマ・閉じ括弧の直前に残った裸の値
	bareValuePattern = regexp.MustCompile(`:\s*([a-zA-Z0-9_]+)([,\s}\]])`)

	numberPattern = regexp.MustCompile(`^[0-9]+(?:[eE][0-9]+)?$`)
)

// fenceLines はコードブロックの区切り行として扱う文字列
var fenceLines = map[string]struct{}{
	"```":      {},
	"```json":  {},
	"``` json": {},
}

// Repair はよくある崩れ方をしたJSON（キーや列挙値のクォート漏れ）を書き換える。
// 純粋な文字列変換であり、I/Oは行わない。出力に再適用しても変化しない。
func Repair(candidate string) string {
	s := strings.TrimSpace(candidate)

	if !strings.HasPrefix(s, "{") {
		if idx := strings.Index(s, "{"); idx != -1 {
			s = s[idx:]
		}
	}
	if !strings.HasSuffix(s, "}") {
		if idx := strings.LastIndex(s, "}"); idx != -1 {
			s = s[:idx+1]
		}
	}

	lines := strings.Split(s, "\n")
	fixed := make([]string, 0, len(lines))
	for _, line := range lines {
		if _, ok := fenceLines[strings.TrimSpace(line)]; ok {
			continue
		}
		line = strings.TrimRight(line, " \t\r\n")

		line = replaceSubmatches(bareKeyPattern, line, func(g []string) string {
			return g[1] + `"` + g[2] + `"` + g[3] + ":" + g[4]
		})
		line = replaceSubmatches(bareLineValuePattern, line, func(g []string) string {
			if isLiteral(g[2]) {
				return g[0]
			}
			return `: "` + g[2] + `"` + g[3] + g[4] + g[5]
		})
		line = replaceSubmatches(bareArrayHeadPattern, line, func(g []string) string {
			if isLiteral(g[2]) {
				return g[0]
			}
			return "[" + g[1] + `"` + g[2] + `"` + g[3] + g[4] + g[5]
		})
		line = replaceSubmatches(bareArrayTailPattern, line, func(g []string) string {
			if isLiteral(g[2]) {
				return g[0]
			}
			return g[1] + `"` + g[2] + `"` + g[3] + g[4] + g[5] + "]"
		})

		fixed = append(fixed, line)
	}

	out := strings.Join(fixed, "\n")
	return replaceSubmatches(bareValuePattern, out, func(g []string) string {
		if isLiteral(g[1]) {
			return g[0]
		}
		return `: "` + g[1] + `"` + g[2]
	})
}

// isLiteral はクォートしてはいけないJSONリテラル（数値・真偽値・null）か判定する
func isLiteral(token string) bool {
	switch token {
	case "true", "false", "null":
		return true
	}
	return numberPattern.MatchString(token)
}

// replaceSubmatches は re の各マッチをサブマッチ配列を受け取る関数の結果で置き換える
func replaceSubmatches(re *regexp.Regexp, s string, fn func(groups []string) string) string {
	matches := re.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		groups := make([]string, len(m)/2)
		for i := range groups {
			if m[2*i] >= 0 {
				groups[i] = s[m[2*i]:m[2*i+1]]
			}
		}
		b.WriteString(s[last:m[0]])
		b.WriteString(fn(groups))
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String()
}
