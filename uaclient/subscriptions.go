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
	"log/slog"
	"time"

	"github.com/gopcua/opcua/ua"

	opcua "github.com/edgeo-scada/opcpublisher"
	"github.com/edgeo-scada/opcpublisher/subscription"
)

const publishRetryDelay = time.Second

// CreateSubscription creates a server subscription. Notifications for it
// are delivered to notify from the session's publish loop.
func (s *Session) CreateSubscription(ctx context.Context, params subscription.Parameters, notify subscription.NotifyFunc) (uint32, error) {
	res, err := send[*ua.CreateSubscriptionResponse](ctx, s.client, "create subscription", &ua.CreateSubscriptionRequest{
		RequestedPublishingInterval: millis(params.PublishingInterval),
		RequestedLifetimeCount:      params.LifetimeCount,
		RequestedMaxKeepAliveCount:  params.MaxKeepAliveCount,
		PublishingEnabled:           true,
		Priority:                    params.Priority,
	})
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.subs[res.SubscriptionID] = notify
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}

	s.logger.Debug("subscription created",
		slog.Uint64("subscription_id", uint64(res.SubscriptionID)),
		slog.Duration("revised_interval", fromMillis(res.RevisedPublishingInterval)))
	return res.SubscriptionID, nil
}

// DeleteSubscription deletes a server subscription.
func (s *Session) DeleteSubscription(ctx context.Context, subscriptionID uint32) error {
	s.mu.Lock()
	delete(s.subs, subscriptionID)
	s.mu.Unlock()

	res, err := send[*ua.DeleteSubscriptionsResponse](ctx, s.client, "delete subscription", &ua.DeleteSubscriptionsRequest{
		SubscriptionIDs: []uint32{subscriptionID},
	})
	if err != nil {
		return err
	}
	if len(res.Results) > 0 && res.Results[0] != ua.StatusOK {
		return convertError("delete subscription", res.Results[0])
	}
	return nil
}

// CreateItems creates monitored items.
func (s *Session) CreateItems(ctx context.Context, subscriptionID uint32, items []subscription.ItemRequest) ([]subscription.ItemResult, error) {
	reqs := make([]*ua.MonitoredItemCreateRequest, len(items))
	for i, item := range items {
		r, err := createRequest(item)
		if err != nil {
			return nil, err
		}
		reqs[i] = r
	}

	res, err := send[*ua.CreateMonitoredItemsResponse](ctx, s.client, "create monitored items", &ua.CreateMonitoredItemsRequest{
		SubscriptionID:     subscriptionID,
		TimestampsToReturn: ua.TimestampsToReturnBoth,
		ItemsToCreate:      reqs,
	})
	if err != nil {
		return nil, err
	}

	out := make([]subscription.ItemResult, len(res.Results))
	for i, r := range res.Results {
		if r == nil {
			out[i] = subscription.ItemResult{StatusCode: opcua.StatusBadUnexpectedError}
			continue
		}
		out[i] = subscription.ItemResult{ServerID: r.MonitoredItemID, StatusCode: fromUAStatus(r.StatusCode)}
	}
	return out, nil
}

// ModifyItems changes the sampling parameters of monitored items.
func (s *Session) ModifyItems(ctx context.Context, subscriptionID uint32, items []subscription.ItemRequest) ([]subscription.ItemResult, error) {
	reqs := make([]*ua.MonitoredItemModifyRequest, len(items))
	for i, item := range items {
		reqs[i] = &ua.MonitoredItemModifyRequest{
			MonitoredItemID:     item.ServerID,
			RequestedParameters: monitoringParameters(item),
		}
	}

	res, err := send[*ua.ModifyMonitoredItemsResponse](ctx, s.client, "modify monitored items", &ua.ModifyMonitoredItemsRequest{
		SubscriptionID:     subscriptionID,
		TimestampsToReturn: ua.TimestampsToReturnBoth,
		ItemsToModify:      reqs,
	})
	if err != nil {
		return nil, err
	}

	out := make([]subscription.ItemResult, len(res.Results))
	for i, r := range res.Results {
		if r == nil {
			out[i] = subscription.ItemResult{StatusCode: opcua.StatusBadUnexpectedError}
			continue
		}
		out[i] = subscription.ItemResult{ServerID: items[i].ServerID, StatusCode: fromUAStatus(r.StatusCode)}
	}
	return out, nil
}

// DeleteItems deletes monitored items.
func (s *Session) DeleteItems(ctx context.Context, subscriptionID uint32, serverIDs []uint32) ([]opcua.StatusCode, error) {
	res, err := send[*ua.DeleteMonitoredItemsResponse](ctx, s.client, "delete monitored items", &ua.DeleteMonitoredItemsRequest{
		SubscriptionID:   subscriptionID,
		MonitoredItemIDs: serverIDs,
	})
	if err != nil {
		return nil, err
	}
	out := make([]opcua.StatusCode, len(res.Results))
	for i, sc := range res.Results {
		out[i] = fromUAStatus(sc)
	}
	return out, nil
}

func (s *Session) subscriptionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// publishLoop keeps one publish request outstanding while subscriptions
// exist and acknowledges delivered notification messages.
func (s *Session) publishLoop(ctx context.Context) {
	defer close(s.stopped)

	var acks []*ua.SubscriptionAcknowledgement
	for {
		if s.subscriptionCount() == 0 {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
				continue
			}
		}

		res, err := send[*ua.PublishResponse](ctx, s.client, "publish", &ua.PublishRequest{
			SubscriptionAcknowledgements: acks,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if opcua.IsStatusCode(err, opcua.StatusBadTimeout) {
				continue
			}
			if opcua.IsSessionLost(err) {
				s.setLost(err)
			}
			if !opcua.IsStatusCode(err, opcua.StatusBadNoSubscription) {
				s.logger.Warn("publish failed", slog.Any("error", err))
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(publishRetryDelay):
			}
			continue
		}

		s.setLost(nil)
		acks = acks[:0]
		msg := res.NotificationMessage
		if msg == nil || len(msg.NotificationData) == 0 {
			continue
		}
		s.dispatch(res.SubscriptionID, msg)
		acks = append(acks, &ua.SubscriptionAcknowledgement{
			SubscriptionID: res.SubscriptionID,
			SequenceNumber: msg.SequenceNumber,
		})
	}
}

func (s *Session) dispatch(subscriptionID uint32, msg *ua.NotificationMessage) {
	s.mu.Lock()
	notify, ok := s.subs[subscriptionID]
	s.mu.Unlock()
	if !ok {
		return
	}

	for _, data := range msg.NotificationData {
		if data == nil {
			continue
		}
		switch n := data.Value.(type) {
		case *ua.DataChangeNotification:
			for _, item := range n.MonitoredItems {
				if item == nil {
					continue
				}
				notify(subscription.Notification{
					SubscriptionID: subscriptionID,
					SequenceNumber: msg.SequenceNumber,
					ClientHandle:   item.ClientHandle,
					Value:          fromUADataValue(item.Value),
				})
			}
		case *ua.EventNotificationList:
			for _, ev := range n.Events {
				if ev == nil {
					continue
				}
				fields := make([]opcua.Variant, len(ev.EventFields))
				for i, f := range ev.EventFields {
					fields[i] = fromUAVariant(f)
				}
				notify(subscription.Notification{
					SubscriptionID: subscriptionID,
					SequenceNumber: msg.SequenceNumber,
					ClientHandle:   ev.ClientHandle,
					EventFields:    fields,
				})
			}
		case *ua.StatusChangeNotification:
			s.logger.Warn("subscription status changed",
				slog.Uint64("subscription_id", uint64(subscriptionID)),
				slog.String("status", fromUAStatus(n.Status).String()))
		}
	}
}
