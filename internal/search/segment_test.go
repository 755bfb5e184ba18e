package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSegmentQuery(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"latin words", "Deploy THE Service", []string{"deploy", "the", "service"}},
		{"cjk bigrams", "介绍剧情", []string{"介绍", "绍剧", "剧情"}},
		{"single cjk char", "好", []string{"好"}},
		{"mixed", "Nginx 如何下载", []string{"nginx", "如何", "何下", "下载"}},
		{"punctuation split", "rate-limits, ok?", []string{"rate", "limits", "ok"}},
		{"digits", "http2 错误", []string{"http2", "错误"}},
		{"empty", "", nil},
		{"only punctuation", "!!!", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SegmentQuery(tt.query))
		})
	}
}
