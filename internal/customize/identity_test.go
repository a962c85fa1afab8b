package customize

import (
	"bytes"
	"strings"
	"testing"
)

func TestRenderIdentity(t *testing.T) {
	t.Parallel()

	files, err := RenderIdentity(Identity{
		DisplayName: "Void Linux",
		BuildDate:   "20240101",
		DocsURL:     "https://example.com/docs",
		Description: "Minimal Void Linux image",
	})
	if err != nil {
		t.Fatalf("RenderIdentity() error = %v", err)
	}

	product := string(files.Product)
	for _, line := range []string{"Image: Void Linux 20240101", "Documentation: https://example.com/docs"} {
		if !strings.Contains(product, line+"\n") {
			t.Fatalf("product descriptor %q lacks line %q", product, line)
		}
	}
	if !strings.Contains(string(files.Motd), "Void Linux") {
		t.Fatalf("motd %q does not name the image", files.Motd)
	}

	want := append(append([]byte(nil), files.Motd...), files.Product...)
	if !bytes.Equal(files.Release, want) {
		t.Fatalf("release = %q, want motd followed by product", files.Release)
	}
}
