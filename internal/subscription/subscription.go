// Package subscription downloads and decodes subscription documents, which
// are plain or base64-encoded lists of configuration strings, one per line.
package subscription

import (
	"context"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/v2rayroot/v2root-go/internal/link"
	"github.com/v2rayroot/v2root-go/internal/model"
	"github.com/v2rayroot/v2root-go/internal/validate"
)

// Skipped records a subscription line that could not be parsed, so callers
// can report bad entries without failing the whole document.
type Skipped struct {
	Line int
	Raw  string
	Err  error
}

// Decode turns a subscription document into descriptors. A document that
// contains a scheme marker is the line list itself; anything else is treated
// as one base64 blob of the list. Unparseable lines are skipped and
// reported, never fatal.
func Decode(doc string) ([]*model.Descriptor, []Skipped) {
	text := validate.TrimWhitespace(doc)
	if !strings.Contains(text, "://") {
		if decoded, err := validate.Base64Payload(text); err == nil && utf8.Valid(decoded) {
			text = string(decoded)
		}
	}

	var (
		descs   []*model.Descriptor
		skipped []Skipped
	)
	for i, line := range strings.Split(text, "\n") {
		line = validate.TrimWhitespace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		desc, err := link.Parse(line)
		if err != nil {
			skipped = append(skipped, Skipped{Line: i + 1, Raw: line, Err: err})
			continue
		}
		descs = append(descs, &desc)
	}
	return descs, skipped
}

// QuickProber is the reachability check Rank uses for each server.
type QuickProber interface {
	Quick(ctx context.Context, desc *model.Descriptor) model.ProbeResult
}

// Ranked pairs a descriptor with its probe outcome.
type Ranked struct {
	Desc   *model.Descriptor
	Result model.ProbeResult
}

// Rank probes every descriptor concurrently and returns them ordered best
// first: highest score, then lowest total latency. Unreachable servers sort
// last but are still present so callers can see why they failed.
func Rank(ctx context.Context, prober QuickProber, descs []*model.Descriptor, workers int, log *logrus.Entry) []Ranked {
	if workers < 1 {
		workers = 4
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	ranked := make([]Ranked, len(descs))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i, desc := range descs {
		wg.Add(1)
		go func(i int, desc *model.Descriptor) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			res := prober.Quick(ctx, desc)
			ranked[i] = Ranked{Desc: desc, Result: res}
			if !res.Success {
				log.WithFields(logrus.Fields{
					"address": desc.Address,
					"port":    desc.Port,
					"error":   res.ErrorKind,
				}).Debug("server unreachable")
			}
		}(i, desc)
	}
	wg.Wait()

	sort.SliceStable(ranked, func(a, b int) bool {
		ra, rb := ranked[a].Result, ranked[b].Result
		if ra.Score != rb.Score {
			return ra.Score > rb.Score
		}
		return ra.TotalMs < rb.TotalMs
	})
	return ranked
}
