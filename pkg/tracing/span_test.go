package tracing

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func TestSpanTree(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "query", "req-1")
	var wg sync.WaitGroup
	for _, name := range []string{"retrieve", "short_answers", "synthesize"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, child := StartChildSpan(ctx, name)
			child.SetAttr("stage", name)
			child.End()
		}()
	}
	wg.Wait()
	root.End()

	if len(root.Children) != 3 {
		t.Fatalf("children = %d, want 3", len(root.Children))
	}
	for _, c := range root.Children {
		if c.TraceID != "req-1" {
			t.Errorf("child %s trace id = %q", c.Name, c.TraceID)
		}
	}
	if root.Find("short_answers") == nil || root.Find("missing") != nil {
		t.Error("Find did not walk the tree")
	}

	var buf bytes.Buffer
	root.Log(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	if got := strings.Count(buf.String(), "msg=span"); got != 4 {
		t.Errorf("logged %d spans, want 4:\n%s", got, buf.String())
	}
}

func TestChildWithoutParent(t *testing.T) {
	_, span := StartChildSpan(context.Background(), "orphan")
	span.End()
	first := span.EndTime
	span.End()
	if span.EndTime != first {
		t.Error("second End moved the end time")
	}
	if SpanFromContext(context.Background()) != nil {
		t.Error("empty context has a span")
	}
}
