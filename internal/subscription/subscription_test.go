package subscription

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/v2rayroot/v2root-go/internal/model"
)

const (
	lineA = "vless://123e4567-e89b-12d3-a456-426614174000@a.example.com:443#A"
	lineB = "ss://YWVzLTEyOC1nY206cGFzcw==@b.example.com:8388#B"
)

func TestDecode_RawList(t *testing.T) {
	doc := strings.Join([]string{
		lineA,
		"# comment",
		"  ",
		"not a link",
		lineB,
	}, "\n")

	descs, skipped := Decode(doc)
	if len(descs) != 2 {
		t.Fatalf("descs=%d, want=2", len(descs))
	}
	if descs[0].Address != "a.example.com" || descs[1].Address != "b.example.com" {
		t.Fatalf("addresses=%q/%q", descs[0].Address, descs[1].Address)
	}
	if len(skipped) != 1 {
		t.Fatalf("skipped=%d, want=1", len(skipped))
	}
	if skipped[0].Line != 4 || skipped[0].Raw != "not a link" {
		t.Fatalf("skipped=%+v", skipped[0])
	}
	if skipped[0].Err == nil {
		t.Fatalf("skipped entry must carry the parse error")
	}
}

func TestDecode_Base64Document(t *testing.T) {
	doc := base64.StdEncoding.EncodeToString([]byte(lineA + "\n" + lineB + "\n"))
	descs, skipped := Decode(doc)
	if len(skipped) != 0 {
		t.Fatalf("skipped=%v, want none", skipped)
	}
	if len(descs) != 2 {
		t.Fatalf("descs=%d, want=2", len(descs))
	}
	if descs[0].DisplayName != "A" || descs[1].DisplayName != "B" {
		t.Fatalf("names=%q/%q", descs[0].DisplayName, descs[1].DisplayName)
	}
}

func TestDecode_Empty(t *testing.T) {
	descs, skipped := Decode("\n\n  \n")
	if len(descs) != 0 || len(skipped) != 0 {
		t.Fatalf("descs=%d skipped=%d, want 0/0", len(descs), len(skipped))
	}
}

type stubProber struct {
	results map[string]model.ProbeResult
}

func (s *stubProber) Quick(ctx context.Context, desc *model.Descriptor) model.ProbeResult {
	return s.results[desc.Address]
}

func TestRank_OrdersByScoreThenLatency(t *testing.T) {
	descs := []*model.Descriptor{
		{Address: "slow", Port: 1},
		{Address: "fast", Port: 1},
		{Address: "dead", Port: 1},
		{Address: "tied", Port: 1},
	}
	prober := &stubProber{results: map[string]model.ProbeResult{
		"slow": {Success: true, Score: 0.5, TotalMs: 400},
		"fast": {Success: true, Score: 0.9, TotalMs: 30},
		"dead": {Success: false, Score: 0, ErrorKind: model.ProbeErrDNS},
		"tied": {Success: true, Score: 0.5, TotalMs: 200},
	}}

	ranked := Rank(context.Background(), prober, descs, 2, nil)
	if len(ranked) != 4 {
		t.Fatalf("ranked=%d, want=4 (failures stay in the list)", len(ranked))
	}
	order := []string{ranked[0].Desc.Address, ranked[1].Desc.Address, ranked[2].Desc.Address, ranked[3].Desc.Address}
	want := []string{"fast", "tied", "slow", "dead"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order=%v, want=%v", order, want)
		}
	}
}

func TestRank_Empty(t *testing.T) {
	ranked := Rank(context.Background(), &stubProber{}, nil, 0, nil)
	if len(ranked) != 0 {
		t.Fatalf("ranked=%d, want=0", len(ranked))
	}
}
