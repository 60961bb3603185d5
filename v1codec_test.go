package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestV1ReaderClassifiesRequestVsResponse(t *testing.T) {
	lines := `{"id":1,"method":"mining.subscribe","params":[]}` + "\n" +
		`{"id":1,"result":[[["mining.notify","sub1"]],"ae6812eb4cd7735a302a8a9dd95cf71f",4],"error":null}` + "\n"
	r := newV1Reader(strings.NewReader(lines))

	l1, err := r.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine (request) error: %v", err)
	}
	if l1.Req == nil || l1.Req.Method != v1MethodSubscribe {
		t.Fatalf("expected a mining.subscribe request, got %+v", l1)
	}

	l2, err := r.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine (response) error: %v", err)
	}
	if l2.Res == nil || l2.Res.Error != nil {
		t.Fatalf("expected a clean response, got %+v", l2)
	}
}

func TestV1ReaderRejectsMalformedLine(t *testing.T) {
	r := newV1Reader(strings.NewReader("not json at all\n"))
	if _, err := r.ReadLine(); err == nil {
		t.Fatalf("expected error for malformed line")
	}
}

func TestV1ReaderRejectsOversizedLine(t *testing.T) {
	huge := strings.Repeat("a", v1MaxLineLen+1)
	r := newV1Reader(strings.NewReader(`{"id":1,"method":"x","params":["` + huge + `"]}` + "\n"))
	if _, err := r.ReadLine(); err == nil {
		t.Fatalf("expected error for oversized line")
	}
}

func TestV1WriterWritesNewlineTerminatedJSON(t *testing.T) {
	var buf bytes.Buffer
	w := newV1Writer(&buf)
	if err := w.WriteRequest(v1Request{ID: 1, Method: v1MethodAuthorize, Params: []any{"worker1", "x"}}); err != nil {
		t.Fatalf("WriteRequest error: %v", err)
	}
	if !strings.HasSuffix(buf.String(), "\n") {
		t.Fatalf("expected newline-terminated output, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), v1MethodAuthorize) {
		t.Fatalf("expected method name in output, got %q", buf.String())
	}
}

func TestDecodeV1SubscribeResult(t *testing.T) {
	raw := []byte(`[[["mining.set_difficulty","sub0"],["mining.notify","sub1"]],"ae6812eb4cd7735a302a8a9dd95cf71f",4]`)
	res, err := decodeV1SubscribeResult(raw)
	if err != nil {
		t.Fatalf("decodeV1SubscribeResult error: %v", err)
	}
	if res.SubscriptionID != "sub1" {
		t.Fatalf("SubscriptionID = %q, want sub1", res.SubscriptionID)
	}
	if res.ExtraNonce1 != "ae6812eb4cd7735a302a8a9dd95cf71f" {
		t.Fatalf("ExtraNonce1 = %q, unexpected", res.ExtraNonce1)
	}
	if res.ExtraNonce2Size != 4 {
		t.Fatalf("ExtraNonce2Size = %d, want 4", res.ExtraNonce2Size)
	}
}

func TestDecodeV1NotifyParams(t *testing.T) {
	params := []any{
		"job1", "00" + strings.Repeat("ab", 31), "01000000", "ffffffff",
		[]any{"branch1", "branch2"}, "20000000", "1d00ffff", "5f5e1000", true,
	}
	np, err := decodeV1NotifyParams(params)
	if err != nil {
		t.Fatalf("decodeV1NotifyParams error: %v", err)
	}
	if np.JobID != "job1" || !np.CleanJobs || len(np.MerkleBranches) != 2 {
		t.Fatalf("unexpected decode result: %+v", np)
	}
}

func TestDecodeV1NotifyParamsWrongArity(t *testing.T) {
	if _, err := decodeV1NotifyParams([]any{"only one"}); err == nil {
		t.Fatalf("expected error for wrong parameter count")
	}
}

func TestDecodeV1SetDifficulty(t *testing.T) {
	d, err := decodeV1SetDifficulty([]any{float64(1024)})
	if err != nil {
		t.Fatalf("decodeV1SetDifficulty error: %v", err)
	}
	if d != 1024 {
		t.Fatalf("d = %v, want 1024", d)
	}
}
