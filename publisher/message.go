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

package publisher

import (
	"time"

	"github.com/google/uuid"

	opcua "github.com/edgeo-scada/opcpublisher"
	"github.com/edgeo-scada/opcpublisher/subscription"
	"github.com/edgeo-scada/opcpublisher/typesystem"
)

// Message is one value forwarded to a subscriber. Values hold plain Go
// types so the message marshals to JSON: decoded structures become maps
// keyed by field name, node ids become strings.
type Message struct {
	ID              string        `json:"id"`
	Subscriber      string        `json:"subscriber"`
	NodeID          string        `json:"nodeId"`
	DisplayName     string        `json:"displayName"`
	Value           interface{}   `json:"value,omitempty"`
	DataType        string        `json:"dataType,omitempty"`
	Status          string        `json:"status"`
	SourceTimestamp *time.Time    `json:"sourceTimestamp,omitempty"`
	ServerTimestamp *time.Time    `json:"serverTimestamp,omitempty"`
	EventFields     []interface{} `json:"eventFields,omitempty"`
	SubscriptionID  uint32        `json:"subscriptionId"`
	SequenceNumber  uint32        `json:"sequenceNumber"`
	Heartbeat       bool          `json:"heartbeat,omitempty"`
}

// newMessage converts ev, decoding extension objects with codec when it
// is not nil.
func newMessage(ev subscription.Event, codec *typesystem.Codec) Message {
	m := Message{
		ID:             uuid.NewString(),
		Subscriber:     ev.Subscriber,
		NodeID:         ev.NodeID.String(),
		DisplayName:    ev.DisplayName,
		Status:         ev.Value.StatusCode.String(),
		SubscriptionID: ev.SubscriptionID,
		SequenceNumber: ev.SequenceNumber,
		Heartbeat:      ev.Heartbeat,
	}
	if ev.EventFields != nil {
		m.Status = opcua.StatusGood.String()
		m.EventFields = make([]interface{}, len(ev.EventFields))
		for i, f := range ev.EventFields {
			m.EventFields[i] = plain(f.Value, codec)
		}
		return m
	}

	if ev.Value.Value.Type != opcua.TypeNull {
		m.DataType = ev.Value.Value.Type.String()
	}
	m.Value = plain(ev.Value.Value.Value, codec)
	if !ev.Value.SourceTimestamp.IsZero() {
		ts := ev.Value.SourceTimestamp
		m.SourceTimestamp = &ts
	}
	if !ev.Value.ServerTimestamp.IsZero() {
		ts := ev.Value.ServerTimestamp
		m.ServerTimestamp = &ts
	}
	return m
}

// plain turns a decoded value into JSON friendly types.
func plain(v interface{}, codec *typesystem.Codec) interface{} {
	switch x := v.(type) {
	case nil:
		return nil
	case opcua.NodeID:
		return x.String()
	case opcua.ExpandedNodeID:
		if x.NamespaceURI != "" {
			return "nsu=" + x.NamespaceURI + ";" + x.NodeID.String()
		}
		return x.NodeID.String()
	case opcua.StatusCode:
		return x.String()
	case opcua.QualifiedName:
		return x.Name
	case opcua.LocalizedText:
		return x.Text
	case opcua.Variant:
		return plain(x.Value, codec)
	case opcua.DataValue:
		return plain(x.Value.Value, codec)
	case opcua.ExtensionObject:
		return plainExtensionObject(x, codec)
	case []opcua.ExtensionObject:
		out := make([]interface{}, len(x))
		for i, eo := range x {
			out[i] = plainExtensionObject(eo, codec)
		}
		return out
	case *typesystem.Structure:
		return plainStructure(x, codec)
	case typesystem.Matrix:
		values := make([]interface{}, len(x.Values))
		for i, e := range x.Values {
			values[i] = plain(e, codec)
		}
		return map[string]interface{}{"dimensions": x.Dimensions, "values": values}
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, e := range x {
			out[i] = plain(e, codec)
		}
		return out
	default:
		return v
	}
}

func plainExtensionObject(x opcua.ExtensionObject, codec *typesystem.Codec) interface{} {
	if s, ok := x.Value.(*typesystem.Structure); ok {
		return plainStructure(s, codec)
	}
	if codec != nil && len(x.Body) > 0 {
		if s, err := codec.DecodeExtensionObject(x); err == nil {
			return plainStructure(s, codec)
		}
	}
	if x.Value != nil {
		return x.Value
	}
	return map[string]interface{}{"typeId": x.TypeID.String(), "body": x.Body}
}

func plainStructure(s *typesystem.Structure, codec *typesystem.Codec) interface{} {
	if s == nil {
		return nil
	}
	out := make(map[string]interface{}, len(s.Fields))
	for name, v := range s.Fields {
		out[name] = plain(v, codec)
	}
	if s.Type != nil {
		for _, f := range s.Type.Fields {
			if f.Type == nil || f.Type.Kind != typesystem.KindEnum {
				continue
			}
			if n, ok := s.Fields[f.Name].(int32); ok {
				if name := f.Type.EnumName(int64(n)); name != "" {
					out[f.Name] = name
				}
			}
		}
	}
	return out
}
