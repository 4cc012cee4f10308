// CLAUDE:SUMMARY Per-session request filter: fails configured resource types on the order tab and counts what it dropped.
package browser

import (
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// resourceAliases maps config names to lower-cased CDP resource types.
// Other names are taken as CDP types directly ("script", "xhr").
var resourceAliases = map[string]string{
	"images":      "image",
	"fonts":       "font",
	"stylesheets": "stylesheet",
}

// blocker fails requests of the configured types on one tab. Blocking
// images or stylesheets also changes what the receipt screenshot shows.
type blocker struct {
	types  map[string]bool
	router *rod.HijackRouter

	mu      sync.Mutex
	blocked map[string]int
}

func newBlocker(names []string) *blocker {
	b := &blocker{
		types:   make(map[string]bool, len(names)),
		blocked: make(map[string]int),
	}
	for _, n := range names {
		key := strings.ToLower(strings.TrimSpace(n))
		if alias, ok := resourceAliases[key]; ok {
			key = alias
		}
		if key != "" {
			b.types[key] = true
		}
	}
	return b
}

// shouldBlock reports whether a request of type t is dropped, and counts it.
func (b *blocker) shouldBlock(t proto.NetworkResourceType) bool {
	key := strings.ToLower(string(t))
	if !b.types[key] {
		return false
	}
	b.mu.Lock()
	b.blocked[key]++
	b.mu.Unlock()
	return true
}

// attach starts hijacking requests on page.
func (b *blocker) attach(page *rod.Page) {
	b.router = page.HijackRequests()
	b.router.MustAdd("*", func(h *rod.Hijack) {
		if b.shouldBlock(h.Request.Type()) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go b.router.Run()
}

// stop ends hijacking and returns the per-type blocked counts as log attrs.
func (b *blocker) stop() []any {
	if b.router != nil {
		b.router.Stop()
		b.router = nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	attrs := make([]any, 0, 2*len(b.blocked))
	for t, n := range b.blocked {
		attrs = append(attrs, t, n)
	}
	return attrs
}
