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
	"errors"
	"fmt"
	"time"

	"github.com/gopcua/opcua/id"
	"github.com/gopcua/opcua/ua"

	opcua "github.com/edgeo-scada/opcpublisher"
	"github.com/edgeo-scada/opcpublisher/subscription"
	"github.com/edgeo-scada/opcpublisher/typesystem"
)

// toUANodeID converts through the text form, which both packages share.
func toUANodeID(n opcua.NodeID) (*ua.NodeID, error) {
	out, err := ua.ParseNodeID(n.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %s", opcua.ErrInvalidNodeID, n)
	}
	return out, nil
}

func fromUANodeID(n *ua.NodeID) opcua.NodeID {
	if n == nil {
		return opcua.NodeID{}
	}
	out, err := opcua.ParseNodeID(n.String())
	if err != nil {
		return opcua.NodeID{}
	}
	return out
}

func fromUAExpandedNodeID(n *ua.ExpandedNodeID) opcua.NodeID {
	if n == nil {
		return opcua.NodeID{}
	}
	return fromUANodeID(n.NodeID)
}

func fromUAStatus(sc ua.StatusCode) opcua.StatusCode {
	return opcua.StatusCode(uint32(sc))
}

// convertError maps status code errors of the client library to
// *opcua.OPCUAError so the helpers in the root package recognise them.
func convertError(service string, err error) error {
	if err == nil {
		return nil
	}
	var sc ua.StatusCode
	if errors.As(err, &sc) {
		return opcua.NewOPCUAError(service, fromUAStatus(sc), err.Error())
	}
	return fmt.Errorf("%s: %w", service, err)
}

func fromUAVariant(v *ua.Variant) opcua.Variant {
	if v == nil {
		return opcua.Variant{}
	}
	return opcua.Variant{Type: opcua.TypeID(v.Type()), Value: fromUAValue(v.Value())}
}

func fromUAValue(val interface{}) interface{} {
	switch x := val.(type) {
	case *ua.NodeID:
		return fromUANodeID(x)
	case *ua.ExpandedNodeID:
		if x == nil {
			return opcua.ExpandedNodeID{}
		}
		return opcua.ExpandedNodeID{NodeID: fromUANodeID(x.NodeID), NamespaceURI: x.NamespaceURI, ServerIndex: x.ServerIndex}
	case ua.StatusCode:
		return fromUAStatus(x)
	case *ua.QualifiedName:
		if x == nil {
			return opcua.QualifiedName{}
		}
		return opcua.QualifiedName{NamespaceIndex: x.NamespaceIndex, Name: x.Name}
	case *ua.LocalizedText:
		if x == nil {
			return opcua.LocalizedText{}
		}
		return opcua.LocalizedText{Locale: x.Locale, Text: x.Text}
	case *ua.ExtensionObject:
		return fromUAExtensionObject(x)
	case []*ua.ExtensionObject:
		out := make([]opcua.ExtensionObject, len(x))
		for i, eo := range x {
			out[i] = fromUAExtensionObject(eo)
		}
		return out
	case *ua.DataValue:
		return fromUADataValue(x)
	case *ua.Variant:
		return fromUAVariant(x)
	default:
		return val
	}
}

// fromUAExtensionObject keeps the raw body of types the client library
// does not know, so the complex type codec can decode it.
func fromUAExtensionObject(eo *ua.ExtensionObject) opcua.ExtensionObject {
	if eo == nil {
		return opcua.ExtensionObject{}
	}
	out := opcua.ExtensionObject{TypeID: fromUAExpandedNodeID(eo.TypeID)}
	switch body := eo.Value.(type) {
	case []byte:
		out.Body = body
	default:
		out.Value = body
	}
	return out
}

func fromUADataValue(dv *ua.DataValue) opcua.DataValue {
	if dv == nil {
		return opcua.DataValue{}
	}
	return opcua.DataValue{
		Value:           fromUAVariant(dv.Value),
		StatusCode:      fromUAStatus(dv.Status),
		SourceTimestamp: dv.SourceTimestamp,
		ServerTimestamp: dv.ServerTimestamp,
	}
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func fromMillis(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}

func eventFilter(f *subscription.EventFilter) *ua.ExtensionObject {
	filter := &ua.EventFilter{WhereClause: &ua.ContentFilter{}}
	for _, path := range f.SelectClauses {
		op := &ua.SimpleAttributeOperand{
			TypeDefinitionID: ua.NewNumericNodeID(0, id.BaseEventType),
			AttributeID:      ua.AttributeIDValue,
		}
		for _, name := range path {
			op.BrowsePath = append(op.BrowsePath, &ua.QualifiedName{Name: name})
		}
		filter.SelectClauses = append(filter.SelectClauses, op)
	}
	return ua.NewExtensionObject(filter)
}

func monitoringParameters(req subscription.ItemRequest) *ua.MonitoringParameters {
	p := &ua.MonitoringParameters{
		ClientHandle:     req.ClientHandle,
		SamplingInterval: millis(req.SamplingInterval),
		QueueSize:        req.QueueSize,
		DiscardOldest:    req.DiscardOldest,
	}
	if req.Filter != nil {
		p.Filter = eventFilter(req.Filter)
	}
	return p
}

func createRequest(req subscription.ItemRequest) (*ua.MonitoredItemCreateRequest, error) {
	node, err := toUANodeID(req.NodeID)
	if err != nil {
		return nil, err
	}
	attr := ua.AttributeIDValue
	if req.Filter != nil {
		attr = ua.AttributeIDEventNotifier
	}
	return &ua.MonitoredItemCreateRequest{
		ItemToMonitor: &ua.ReadValueID{
			NodeID:       node,
			AttributeID:  attr,
			DataEncoding: &ua.QualifiedName{},
		},
		MonitoringMode:      ua.MonitoringModeReporting,
		RequestedParameters: monitoringParameters(req),
	}, nil
}

// definitionFromUA converts the DataTypeDefinition attribute value.
func definitionFromUA(node typesystem.DataTypeNode, v interface{}) (*typesystem.DataTypeDefinition, error) {
	if eo, ok := v.(*ua.ExtensionObject); ok && eo != nil {
		v = eo.Value
	}
	switch d := v.(type) {
	case *ua.StructureDefinition:
		if d == nil {
			break
		}
		sd := &typesystem.StructureDefinition{
			DefaultEncodingID: fromUANodeID(d.DefaultEncodingID),
			BaseDataType:      fromUANodeID(d.BaseDataType),
			StructureType:     typesystem.StructureType(d.StructureType),
		}
		for _, f := range d.Fields {
			if f == nil {
				continue
			}
			sd.Fields = append(sd.Fields, typesystem.StructureField{
				Name:            f.Name,
				DataType:        fromUANodeID(f.DataType),
				ValueRank:       f.ValueRank,
				ArrayDimensions: f.ArrayDimensions,
				MaxStringLength: f.MaxStringLength,
				IsOptional:      f.IsOptional,
			})
		}
		return &typesystem.DataTypeDefinition{
			Kind:             typesystem.DefinitionStructure,
			TypeID:           node.NodeID,
			Name:             node.BrowseName.Name,
			BinaryEncodingID: sd.DefaultEncodingID,
			Source:           typesystem.SourceAttribute,
			Structure:        sd,
		}, nil

	case *ua.EnumDefinition:
		if d == nil {
			break
		}
		ed := &typesystem.EnumDefinition{}
		for _, f := range d.Fields {
			if f == nil {
				continue
			}
			ed.Fields = append(ed.Fields, typesystem.EnumField{Name: f.Name, Value: f.Value})
		}
		return &typesystem.DataTypeDefinition{
			Kind:   typesystem.DefinitionEnum,
			TypeID: node.NodeID,
			Name:   node.BrowseName.Name,
			Source: typesystem.SourceAttribute,
			Enum:   ed,
		}, nil
	}
	return nil, fmt.Errorf("%w: %s holds %T", opcua.ErrDefinitionUnavailable, node.NodeID, v)
}
