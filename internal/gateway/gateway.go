// Package gateway routes chat requests to the backend serving the requested
// model: a local engine, or a remote OpenAI-compatible server the gateway
// fronts.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"fm-serve/internal/backend"
	"fm-serve/internal/models"
	"fm-serve/internal/types"
)

const remoteModelTTL = 60 * time.Second

// Target is the resolved destination for a model.
type Target struct {
	// Engine is set when a local engine serves the model.
	Engine backend.Engine
	// Remote is set when the model lives on a remote backend. UpstreamModel
	// is the model id the remote knows, with any backend prefix removed.
	Remote        *types.RemoteBackendConfig
	UpstreamModel string
}

// Local reports whether the target is a local engine.
func (t Target) Local() bool { return t.Engine != nil }

// Gateway resolves models across local engines and remote backends. Remote
// model lists are fetched lazily and cached briefly.
type Gateway struct {
	registry *backend.Registry
	remotes  []types.RemoteBackendConfig
	client   *http.Client

	mu           sync.RWMutex
	remoteModels map[string]*types.RemoteBackendConfig
	fetchedAt    time.Time
}

func New(registry *backend.Registry, remotes []types.RemoteBackendConfig) *Gateway {
	return &Gateway{
		registry: registry,
		remotes:  remotes,
		client: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        32,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		remoteModels: make(map[string]*types.RemoteBackendConfig),
	}
}

// Resolve finds the backend serving a model. Local engines win over remote
// models with the same id. The "backend/model" form addresses a remote
// backend explicitly.
func (g *Gateway) Resolve(ctx context.Context, model string) (Target, bool) {
	if engine, ok := g.registry.Lookup(model); ok {
		return Target{Engine: engine}, true
	}

	if name, upstream, ok := strings.Cut(model, "/"); ok {
		for i := range g.remotes {
			if g.remotes[i].Name == name {
				return Target{Remote: &g.remotes[i], UpstreamModel: upstream}, true
			}
		}
	}

	g.refreshRemoteModels(ctx)
	g.mu.RLock()
	remote, ok := g.remoteModels[model]
	g.mu.RUnlock()
	if ok {
		return Target{Remote: remote, UpstreamModel: model}, true
	}
	return Target{}, false
}

// Models aggregates the model lists of every backend. Local models come
// first; remote models that collide with a local id are skipped.
func (g *Gateway) Models(ctx context.Context) models.ModelList {
	created := time.Now().Unix()
	seen := make(map[string]bool)
	var out []models.Model

	for _, engine := range g.registry.All() {
		for _, id := range engine.Models() {
			if seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, models.Model{ID: id, Object: "model", Created: created, OwnedBy: engine.Name()})
		}
	}

	g.refreshRemoteModels(ctx)
	g.mu.RLock()
	for id, remote := range g.remoteModels {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, models.Model{ID: id, Object: "model", Created: created, OwnedBy: remote.Name})
	}
	g.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return models.ModelList{Object: "list", Data: out}
}

// refreshRemoteModels re-fetches remote model lists once the cache goes
// stale. Unreachable backends are skipped; their previous models age out.
func (g *Gateway) refreshRemoteModels(ctx context.Context) {
	if len(g.remotes) == 0 {
		return
	}
	g.mu.RLock()
	fresh := time.Since(g.fetchedAt) < remoteModelTTL
	g.mu.RUnlock()
	if fresh {
		return
	}

	discovered := make(map[string]*types.RemoteBackendConfig)
	for i := range g.remotes {
		remote := &g.remotes[i]
		ids, err := g.fetchModels(ctx, remote)
		if err != nil {
			logrus.WithFields(logrus.Fields{"backend": remote.Name, "error": err}).Warn("Failed to list remote models")
			continue
		}
		for _, id := range ids {
			if _, dup := discovered[id]; !dup {
				discovered[id] = remote
			}
		}
	}

	g.mu.Lock()
	g.remoteModels = discovered
	g.fetchedAt = time.Now()
	g.mu.Unlock()
}

func (g *Gateway) fetchModels(ctx context.Context, remote *types.RemoteBackendConfig) ([]string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, remote.BaseURL+"/v1/models", nil)
	if err != nil {
		return nil, err
	}
	if remote.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+remote.APIKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("models request returned %d", resp.StatusCode)
	}

	var list models.ModelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(list.Data))
	for _, m := range list.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// CheckRemote probes one remote backend's health via its model list.
func (g *Gateway) CheckRemote(ctx context.Context, remote *types.RemoteBackendConfig) error {
	_, err := g.fetchModels(ctx, remote)
	return err
}

// Engines returns the local engines.
func (g *Gateway) Engines() []backend.Engine {
	return g.registry.All()
}

// Remotes returns the configured remote backends.
func (g *Gateway) Remotes() []types.RemoteBackendConfig {
	return g.remotes
}
