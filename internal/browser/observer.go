package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"statenerd-mcp-server/internal/state"

	"github.com/go-rod/rod"
	"github.com/google/uuid"
)

// observerBridge drives the in-page mutation observer over rod's eval
// channel. Each installed script instance is stamped with an epoch so
// the accumulator can tell a fresh document from a continued one.
type observerBridge struct {
	page   *rod.Page
	limits state.ObserverLimits

	mu    sync.Mutex
	epoch string
}

var _ state.ScriptBridge = (*observerBridge)(nil)

func newObserverBridge(page *rod.Page, limits state.ObserverLimits) *observerBridge {
	return &observerBridge{page: page, limits: limits}
}

// Install evaluates the observer script under a fresh epoch. Returns the
// script's outcome string ("installed" or "already-installed").
func (b *observerBridge) Install(ctx context.Context) (string, error) {
	b.mu.Lock()
	b.epoch = uuid.NewString()
	epoch := b.epoch
	b.mu.Unlock()

	res, err := b.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           state.ObserverScript(epoch, b.limits),
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return "", fmt.Errorf("install observer: %w", err)
	}
	if res == nil {
		return "", errors.New("install observer: no result")
	}
	return res.Value.Str(), nil
}

// Read drains observer entries recorded after afterSeq. If the observer
// is gone (a new document replaced it), it is reinstalled and an empty
// batch under the new epoch is returned so callers reset their cursors.
func (b *observerBridge) Read(ctx context.Context, afterSeq int64) (state.ObserverBatch, error) {
	res, err := b.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS: `
		(after) => {
			const o = window.` + state.ObserverGlobal + `;
			if (!o) return null;
			return o.read(after);
		}
		`,
		JSArgs:       []interface{}{afterSeq},
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return state.ObserverBatch{}, fmt.Errorf("read observer: %w", err)
	}
	if res == nil || res.Value.Nil() {
		if _, err := b.Install(ctx); err != nil {
			return state.ObserverBatch{}, fmt.Errorf("reinstall observer: %w", err)
		}
		return state.ObserverBatch{Epoch: b.Epoch()}, nil
	}

	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return state.ObserverBatch{}, fmt.Errorf("encode observer batch: %w", err)
	}
	var batch state.ObserverBatch
	if err := json.Unmarshal(raw, &batch); err != nil {
		return state.ObserverBatch{}, fmt.Errorf("decode observer batch: %w", err)
	}
	return batch, nil
}

// Reset clears the observer's in-page buffer without changing the epoch.
func (b *observerBridge) Reset(ctx context.Context) error {
	_, err := b.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS: `
		() => {
			const o = window.` + state.ObserverGlobal + `;
			if (o) o.reset();
			return true;
		}
		`,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return fmt.Errorf("reset observer: %w", err)
	}
	return nil
}

// Epoch returns the epoch of the most recently installed script.
func (b *observerBridge) Epoch() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.epoch
}
