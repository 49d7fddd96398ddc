package security

import (
	"strings"
	"testing"
)

// TestSanitizeTitle_タグ除去 はタイトルから全てのHTMLタグが除去されることを確認する。
func TestSanitizeTitle_タグ除去(t *testing.T) {
	s := NewEventSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"プレーンテキスト", "週次定例", "週次定例"},
		{"scriptタグ", `週次定例<script>alert("x")</script>`, "週次定例"},
		{"装飾タグも除去", "<strong>重要</strong>会議", "重要会議"},
		{"前後の空白トリム", "  採用面談  ", "採用面談"},
		{"空文字列", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.SanitizeTitle(tt.input)
			if got != tt.want {
				t.Errorf("SanitizeTitle(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestSanitizeDescription_許可タグ は許可リストのタグが通過することを確認する。
func TestSanitizeDescription_許可タグ(t *testing.T) {
	s := NewEventSanitizer()

	input := "<p>議題:</p><ul><li><strong>予算</strong></li><li><em>採用</em></li></ul>"
	got := s.SanitizeDescription(input)
	if got != input {
		t.Errorf("許可タグが変更された: got %q, want %q", got, input)
	}
}

// TestSanitizeDescription_危険タグ除去 はscriptタグとon*属性が除去されることを確認する。
func TestSanitizeDescription_危険タグ除去(t *testing.T) {
	s := NewEventSanitizer()

	tests := []struct {
		name     string
		input    string
		excluded []string
	}{
		{"scriptタグ", `<p>資料</p><script>alert("x")</script>`, []string{"<script>", "alert"}},
		{"iframeタグ", `<iframe src="https://evil.example.com"></iframe><p>ok</p>`, []string{"<iframe"}},
		{"onclickイベント属性", `<p onclick="steal()">本文</p>`, []string{"onclick"}},
		{"styleタグ", `<style>body{display:none}</style><p>本文</p>`, []string{"<style>"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.SanitizeDescription(tt.input)
			for _, bad := range tt.excluded {
				if strings.Contains(got, bad) {
					t.Errorf("サニタイズ結果に %q が残っている: %q", bad, got)
				}
			}
		})
	}
}

// TestSanitizeDescription_リンク属性付与 はaタグにtarget/relが強制付与されることを確認する。
func TestSanitizeDescription_リンク属性付与(t *testing.T) {
	s := NewEventSanitizer()

	got := s.SanitizeDescription(`<a href="https://example.com/agenda">議事録</a>`)
	if !strings.Contains(got, `target="_blank"`) {
		t.Errorf("target=\"_blank\" が付与されていない: %q", got)
	}
	if !strings.Contains(got, "noopener") || !strings.Contains(got, "noreferrer") {
		t.Errorf("rel属性が付与されていない: %q", got)
	}
	if !strings.Contains(got, `href="https://example.com/agenda"`) {
		t.Errorf("httpsリンクのhrefが保持されていない: %q", got)
	}
}

// TestSanitizeDescription_危険スキーム除去 はhttps以外のスキームを持つ
// リンクが除去されることを確認する。
func TestSanitizeDescription_危険スキーム除去(t *testing.T) {
	s := NewEventSanitizer()

	tests := []struct {
		name  string
		input string
	}{
		{"javascriptスキーム", `<a href="javascript:alert(1)">click</a>`},
		{"dataスキーム", `<a href="data:text/html,x">click</a>`},
		{"httpスキーム", `<a href="http://example.com">click</a>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.SanitizeDescription(tt.input)
			if strings.Contains(got, "href=") {
				t.Errorf("許可外スキームのhrefが残っている: %q", got)
			}
		})
	}
}

// TestSanitize_冪等性 は同一入力に対する二重適用が結果を変えないことを確認する。
func TestSanitize_冪等性(t *testing.T) {
	s := NewEventSanitizer()

	input := `<p>議題</p><script>x()</script><a href="https://example.com">link</a>`
	once := s.SanitizeDescription(input)
	twice := s.SanitizeDescription(once)
	if once != twice {
		t.Errorf("説明文サニタイズが冪等でない: once=%q twice=%q", once, twice)
	}

	title := s.SanitizeTitle("<b>会議</b> ")
	if s.SanitizeTitle(title) != title {
		t.Errorf("タイトルサニタイズが冪等でない: %q", title)
	}
}
