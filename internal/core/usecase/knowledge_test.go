package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kirillkom/inbox-autoresponder/internal/core/domain"
)

func TestFetchContextTruncatesEachDocument(t *testing.T) {
	long := strings.Repeat("x", 20000)
	catalog := &catalogFake{docs: []domain.KnowledgeDocument{
		{ID: "1", Filename: "faq.txt", StorageKey: "faq"},
	}}
	storage := &storageFake{objects: map[string][]byte{"kb/faq": []byte(long)}}
	retriever := NewKnowledgeRetriever(catalog, storage, passthroughExtractor{}, KnowledgeConfig{
		Bucket:      "kb",
		DocumentCap: 15000,
		TotalCap:    100000,
	})

	got := retriever.FetchContext(context.Background())
	want := "--- Document: faq.txt ---\n" + strings.Repeat("x", 15000) + domain.DefaultTruncationMarker
	if got != want {
		t.Fatalf("unexpected context: len=%d want len=%d", len(got), len(want))
	}
}

func TestFetchContextSkipsFailedDocuments(t *testing.T) {
	catalog := &catalogFake{docs: []domain.KnowledgeDocument{
		{ID: "1", Filename: "missing.pdf", StorageKey: "missing"},
		{ID: "2", Filename: "broken.bin", StorageKey: "broken"},
		{ID: "3", Filename: "hours.txt", StorageKey: "hours"},
	}}
	storage := &storageFake{objects: map[string][]byte{
		"kb/broken": []byte("???"),
		"kb/hours":  []byte("Open 9-5"),
	}}
	retriever := NewKnowledgeRetriever(catalog, storage, passthroughExtractor{failFor: "broken.bin"}, KnowledgeConfig{
		Bucket:      "kb",
		DocumentCap: 100,
		TotalCap:    1000,
	})

	got := retriever.FetchContext(context.Background())
	if got != "--- Document: hours.txt ---\nOpen 9-5" {
		t.Fatalf("unexpected context %q", got)
	}
}

func TestFetchContextListingFailureIsEmptyAndNotCached(t *testing.T) {
	catalog := &catalogFake{err: errors.New("db down")}
	retriever := NewKnowledgeRetriever(catalog, &storageFake{}, passthroughExtractor{}, KnowledgeConfig{})

	if got := retriever.FetchContext(context.Background()); got != "" {
		t.Fatalf("expected empty context, got %q", got)
	}
	retriever.FetchContext(context.Background())
	if catalog.calls != 2 {
		t.Fatalf("expected listing to be retried, got %d calls", catalog.calls)
	}
}

func TestFetchContextCachesUntilInvalidated(t *testing.T) {
	catalog := &catalogFake{}
	retriever := NewKnowledgeRetriever(catalog, &storageFake{}, passthroughExtractor{}, KnowledgeConfig{})

	retriever.FetchContext(context.Background())
	retriever.FetchContext(context.Background())
	if catalog.calls != 1 {
		t.Fatalf("expected cached context, got %d listings", catalog.calls)
	}
	retriever.Invalidate()
	retriever.FetchContext(context.Background())
	if catalog.calls != 2 {
		t.Fatalf("expected rebuild after invalidate, got %d listings", catalog.calls)
	}
}

func TestFetchContextAppliesTotalCap(t *testing.T) {
	catalog := &catalogFake{docs: []domain.KnowledgeDocument{
		{ID: "1", Filename: "a.txt", StorageKey: "a"},
		{ID: "2", Filename: "b.txt", StorageKey: "b"},
	}}
	storage := &storageFake{objects: map[string][]byte{
		"kb/a": []byte(strings.Repeat("a", 80)),
		"kb/b": []byte(strings.Repeat("b", 80)),
	}}
	retriever := NewKnowledgeRetriever(catalog, storage, passthroughExtractor{}, KnowledgeConfig{
		Bucket:           "kb",
		DocumentCap:      1000,
		TotalCap:         100,
		TruncationMarker: "[cut]",
	})

	got := retriever.FetchContext(context.Background())
	if !strings.HasSuffix(got, "[cut]") {
		t.Fatalf("expected total cap marker, got %q", got)
	}
	if n := len([]rune(strings.TrimSuffix(got, "[cut]"))); n != 100 {
		t.Fatalf("expected 100 runes before marker, got %d", n)
	}
}

func TestGenerateWrapsFailureAndRejectsEmpty(t *testing.T) {
	llm := &completionFake{replies: []completionReply{
		{err: errors.New("boom")},
		{text: "   "},
		{text: " Thanks for reaching out. "},
	}}
	generator := NewResponseGenerator(llm, GeneratorConfig{Temperature: 0.7})
	msg := domain.Message{UID: 1, From: "a@example.com", Subject: "Hi", Body: "Question"}

	if _, err := generator.Generate(context.Background(), "", msg); !errors.Is(err, domain.ErrGeneration) {
		t.Fatalf("expected generation error, got %v", err)
	}
	if _, err := generator.Generate(context.Background(), "", msg); !errors.Is(err, domain.ErrGeneration) {
		t.Fatalf("expected empty completion to fail, got %v", err)
	}
	text, err := generator.Generate(context.Background(), "Open 9-5", msg)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != "Thanks for reaching out." {
		t.Fatalf("unexpected text %q", text)
	}
	last := llm.calls[2]
	if last.Temperature != 0.7 || last.MaxTokens != 600 {
		t.Fatalf("unexpected sampling settings %+v", last)
	}
	if !strings.Contains(last.UserPrompt, "Open 9-5") {
		t.Fatalf("expected knowledge in prompt")
	}
}
