package models_test

import (
	"strings"
	"testing"

	"github.com/MegaGrindStone/wingman-chat/internal/models"
)

func TestRenderContent(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		wantContain string
		wantAbsent  string
	}{
		{
			name:        "Empty",
			content:     "",
			wantContain: "",
		},
		{
			name:        "Emphasis",
			content:     "Ask about her **favourite** trip",
			wantContain: "<strong>favourite</strong>",
		},
		{
			name:        "List",
			content:     "- be curious\n- be kind",
			wantContain: "<li>be kind</li>",
		},
		{
			name:        "Raw HTML is dropped",
			content:     "hello <script>alert(1)</script>",
			wantContain: "hello",
			wantAbsent:  "<script>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := models.RenderContent(tt.content)
			if err != nil {
				t.Fatalf("RenderContent() error = %v", err)
			}
			if !strings.Contains(got, tt.wantContain) {
				t.Errorf("RenderContent() = %q, want to contain %q", got, tt.wantContain)
			}
			if tt.wantAbsent != "" && strings.Contains(got, tt.wantAbsent) {
				t.Errorf("RenderContent() = %q, should not contain %q", got, tt.wantAbsent)
			}
		})
	}
}
