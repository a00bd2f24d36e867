// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package uaclient

import (
	"context"
	"fmt"

	opcua "github.com/edgeo-scada/opcpublisher"
	"github.com/edgeo-scada/opcpublisher/session"
	"github.com/edgeo-scada/opcpublisher/subscription"
	"github.com/edgeo-scada/opcpublisher/typesystem"
)

// Provider hands out subscription backends backed by shared sessions.
type Provider struct {
	holder *session.Holder
}

var _ subscription.BackendProvider = (*Provider)(nil)

// NewProvider creates a provider on holder.
func NewProvider(holder *session.Holder) *Provider {
	return &Provider{holder: holder}
}

// Backend acquires the session for key and waits for it to connect. The
// returned release function drops the session reference.
func (p *Provider) Backend(ctx context.Context, key string) (subscription.Backend, func(), error) {
	hd := p.holder.Acquire(key)
	if err := hd.Wait(ctx); err != nil {
		hd.Release()
		return nil, nil, err
	}
	return HandleBackend{Handle: hd}, hd.Release, nil
}

// HandleBackend runs every Backend call under a shared lock of the
// handle's session, so a reconnect never swaps the session mid-call.
type HandleBackend struct {
	Handle *session.Handle
}

func (b HandleBackend) do(ctx context.Context, fn func(subscription.Backend) error) error {
	return b.Handle.Do(ctx, func(s session.Session) error {
		be, ok := s.(subscription.Backend)
		if !ok {
			return fmt.Errorf("session %T cannot manage subscriptions", s)
		}
		return fn(be)
	})
}

func (b HandleBackend) CreateSubscription(ctx context.Context, params subscription.Parameters, notify subscription.NotifyFunc) (id uint32, err error) {
	err = b.do(ctx, func(be subscription.Backend) error {
		id, err = be.CreateSubscription(ctx, params, notify)
		return err
	})
	return id, err
}

func (b HandleBackend) DeleteSubscription(ctx context.Context, subscriptionID uint32) error {
	return b.do(ctx, func(be subscription.Backend) error {
		return be.DeleteSubscription(ctx, subscriptionID)
	})
}

func (b HandleBackend) CreateItems(ctx context.Context, subscriptionID uint32, items []subscription.ItemRequest) (out []subscription.ItemResult, err error) {
	err = b.do(ctx, func(be subscription.Backend) error {
		out, err = be.CreateItems(ctx, subscriptionID, items)
		return err
	})
	return out, err
}

func (b HandleBackend) ModifyItems(ctx context.Context, subscriptionID uint32, items []subscription.ItemRequest) (out []subscription.ItemResult, err error) {
	err = b.do(ctx, func(be subscription.Backend) error {
		out, err = be.ModifyItems(ctx, subscriptionID, items)
		return err
	})
	return out, err
}

func (b HandleBackend) DeleteItems(ctx context.Context, subscriptionID uint32, serverIDs []uint32) (out []opcua.StatusCode, err error) {
	err = b.do(ctx, func(be subscription.Backend) error {
		out, err = be.DeleteItems(ctx, subscriptionID, serverIDs)
		return err
	})
	return out, err
}

// HandleSource reads type information through a session handle.
type HandleSource struct {
	Handle *session.Handle
}

var _ typesystem.NodeSource = HandleSource{}

func (h HandleSource) do(ctx context.Context, fn func(typesystem.NodeSource) error) error {
	return h.Handle.Do(ctx, func(s session.Session) error {
		src, ok := s.(typesystem.NodeSource)
		if !ok {
			return fmt.Errorf("session %T cannot read type information", s)
		}
		return fn(src)
	})
}

func (h HandleSource) BrowseSubtypes(ctx context.Context, parent opcua.NodeID) (out []typesystem.DataTypeNode, err error) {
	err = h.do(ctx, func(src typesystem.NodeSource) error {
		out, err = src.BrowseSubtypes(ctx, parent)
		return err
	})
	return out, err
}

func (h HandleSource) SuperType(ctx context.Context, n opcua.NodeID) (out opcua.NodeID, err error) {
	err = h.do(ctx, func(src typesystem.NodeSource) error {
		out, err = src.SuperType(ctx, n)
		return err
	})
	return out, err
}

func (h HandleSource) ReadDefinition(ctx context.Context, node typesystem.DataTypeNode) (out *typesystem.DataTypeDefinition, err error) {
	err = h.do(ctx, func(src typesystem.NodeSource) error {
		out, err = src.ReadDefinition(ctx, node)
		return err
	})
	return out, err
}

func (h HandleSource) Encodings(ctx context.Context, n opcua.NodeID) (binary, xml opcua.NodeID, err error) {
	err = h.do(ctx, func(src typesystem.NodeSource) error {
		binary, xml, err = src.Encodings(ctx, n)
		return err
	})
	return binary, xml, err
}

func (h HandleSource) ReadDictionaries(ctx context.Context, typeSystem opcua.NodeID) (out []typesystem.Dictionary, err error) {
	err = h.do(ctx, func(src typesystem.NodeSource) error {
		out, err = src.ReadDictionaries(ctx, typeSystem)
		return err
	})
	return out, err
}

func (h HandleSource) NamespaceArray(ctx context.Context) (out []string, err error) {
	err = h.do(ctx, func(src typesystem.NodeSource) error {
		out, err = src.NamespaceArray(ctx)
		return err
	})
	return out, err
}
