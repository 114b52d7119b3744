package llm

import (
	"context"
	"testing"
)

func openTestCache(t *testing.T) *ResponseCache {
	t.Helper()
	c, err := OpenCache(CacheConfig{InMemory: true})
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCachingProvider_ServesRepeats(t *testing.T) {
	inner := &scriptedProvider{content: "answer"}
	p := WithCache(inner, openTestCache(t), "gpt-4o", nil)

	img := Image{MediaType: "image/png", Data: []byte{1, 2, 3}}
	prompt := &Prompt{Messages: []Message{{Role: RoleUser, Content: "q", Images: []Image{img}}}}

	first, err := p.Complete(context.Background(), prompt, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := p.Complete(context.Background(), prompt, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if inner.calls != 1 {
		t.Errorf("expected 1 upstream call, got %d", inner.calls)
	}
	if first.Cached || !second.Cached {
		t.Errorf("expected only the second response to be cached: %v %v", first.Cached, second.Cached)
	}
	if second.Content != "answer" || second.InputTokens != 10 {
		t.Errorf("cached response lost fields: %+v", second)
	}
}

func TestCachingProvider_KeyIncludesImage(t *testing.T) {
	inner := &scriptedProvider{content: "x"}
	p := WithCache(inner, openTestCache(t), "gpt-4o", nil)

	for _, data := range [][]byte{{1}, {2}} {
		prompt := &Prompt{Messages: []Message{{Role: RoleUser, Content: "q", Images: []Image{{MediaType: "image/png", Data: data}}}}}
		if _, err := p.Complete(context.Background(), prompt, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if inner.calls != 2 {
		t.Errorf("different images must not share a cache entry, got %d calls", inner.calls)
	}
}

func TestWithCache_NilPassthrough(t *testing.T) {
	inner := &scriptedProvider{}
	if WithCache(inner, nil, "m", nil) != Provider(inner) {
		t.Error("nil cache should return the inner provider")
	}
	if WithCache(nil, openTestCache(t), "m", nil) != nil {
		t.Error("nil provider should stay nil")
	}
}

func TestOpenCache_RequiresPath(t *testing.T) {
	if _, err := OpenCache(CacheConfig{}); err == nil {
		t.Fatal("expected error without path")
	}
}
