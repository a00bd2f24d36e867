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

package opcua

import (
	"errors"
	"fmt"
	"strings"
)

// StatusCode severity levels.
const (
	StatusSeverityGood      uint32 = 0x00000000
	StatusSeverityUncertain uint32 = 0x40000000
	StatusSeverityBad       uint32 = 0x80000000
	StatusSeverityMask      uint32 = 0xC0000000
)

// Status codes the publisher inspects or reports.
const (
	StatusGood                          StatusCode = 0x00000000
	StatusUncertain                     StatusCode = 0x40000000
	StatusBad                           StatusCode = 0x80000000
	StatusBadUnexpectedError            StatusCode = 0x80010000
	StatusBadCommunicationError         StatusCode = 0x80050000
	StatusBadEncodingError              StatusCode = 0x80060000
	StatusBadDecodingError              StatusCode = 0x80070000
	StatusBadTimeout                    StatusCode = 0x800A0000
	StatusBadServiceUnsupported         StatusCode = 0x800B0000
	StatusBadServerNotConnected         StatusCode = 0x800D0000
	StatusBadDataTypeIDUnknown          StatusCode = 0x80110000
	StatusBadSessionClosed              StatusCode = 0x80260000
	StatusBadSubscriptionIDInvalid      StatusCode = 0x80280000
	StatusBadNodeIDInvalid              StatusCode = 0x80330000
	StatusBadNodeIDUnknown              StatusCode = 0x80340000
	StatusBadAttributeIDInvalid         StatusCode = 0x80350000
	StatusBadNotSupported               StatusCode = 0x803D0000
	StatusBadNotFound                   StatusCode = 0x803E0000
	StatusBadMonitoredItemIDInvalid     StatusCode = 0x80420000
	StatusBadTypeDefinitionInvalid      StatusCode = 0x80630000
	StatusBadNoSubscription             StatusCode = 0x80790000
	StatusBadSecureChannelClosed        StatusCode = 0x80860000
	StatusBadNotConnected               StatusCode = 0x808A0000
	StatusBadConnectionClosed           StatusCode = 0x80AE0000
	StatusBadTooManyMonitoredItems      StatusCode = 0x80DB0000
	StatusBadSessionIDInvalid           StatusCode = 0x80250000
	StatusBadMonitoredItemFilterInvalid StatusCode = 0x80430000
)

type statusCodeInfo struct {
	name        string
	description string
}

var statusCodeMap = map[StatusCode]statusCodeInfo{
	StatusGood:                          {"Good", "The operation completed successfully"},
	StatusUncertain:                     {"Uncertain", "The operation completed however its outputs may not be usable"},
	StatusBad:                           {"Bad", "The operation failed"},
	StatusBadUnexpectedError:            {"BadUnexpectedError", "An unexpected error occurred"},
	StatusBadCommunicationError:         {"BadCommunicationError", "A low level communication error occurred"},
	StatusBadEncodingError:              {"BadEncodingError", "Encoding halted because of invalid data in the objects being serialized"},
	StatusBadDecodingError:              {"BadDecodingError", "Decoding halted because of invalid data"},
	StatusBadTimeout:                    {"BadTimeout", "The operation timed out"},
	StatusBadServiceUnsupported:         {"BadServiceUnsupported", "The server does not support the requested service"},
	StatusBadServerNotConnected:         {"BadServerNotConnected", "The operation could not complete because the client is not connected to the server"},
	StatusBadDataTypeIDUnknown:          {"BadDataTypeIdUnknown", "The extension object cannot be decoded because the data type is not known"},
	StatusBadSessionClosed:              {"BadSessionClosed", "The session was closed by the client"},
	StatusBadSessionIDInvalid:           {"BadSessionIdInvalid", "The session id is not valid"},
	StatusBadSubscriptionIDInvalid:      {"BadSubscriptionIdInvalid", "The subscription ID is not valid"},
	StatusBadNodeIDInvalid:              {"BadNodeIdInvalid", "The node ID format is not valid"},
	StatusBadNodeIDUnknown:              {"BadNodeIdUnknown", "The node ID refers to a node that does not exist"},
	StatusBadAttributeIDInvalid:         {"BadAttributeIdInvalid", "The attribute ID is not valid for this node"},
	StatusBadNotSupported:               {"BadNotSupported", "The requested operation is not supported"},
	StatusBadNotFound:                   {"BadNotFound", "A requested item was not found"},
	StatusBadMonitoredItemIDInvalid:     {"BadMonitoredItemIdInvalid", "The monitored item ID is not valid"},
	StatusBadMonitoredItemFilterInvalid: {"BadMonitoredItemFilterInvalid", "The monitored item filter parameter is not valid"},
	StatusBadTypeDefinitionInvalid:      {"BadTypeDefinitionInvalid", "The type definition node id does not reference an appropriate type node"},
	StatusBadNoSubscription:             {"BadNoSubscription", "There is no subscription available for this session"},
	StatusBadSecureChannelClosed:        {"BadSecureChannelClosed", "The secure channel has been closed"},
	StatusBadNotConnected:               {"BadNotConnected", "The variable should receive its value from another variable but has never been configured"},
	StatusBadConnectionClosed:           {"BadConnectionClosed", "The connection was closed"},
	StatusBadTooManyMonitoredItems:      {"BadTooManyMonitoredItems", "The request could not be processed because there are too many monitored items in the subscription"},
}

// String returns the symbolic name of the status code.
func (s StatusCode) String() string {
	if info, ok := statusCodeMap[s]; ok {
		return info.name
	}
	return fmt.Sprintf("0x%08X", uint32(s))
}

// Description returns a human-readable description of the status code.
func (s StatusCode) Description() string {
	if info, ok := statusCodeMap[s]; ok {
		return info.description
	}
	switch {
	case s.IsGood():
		return "The operation completed successfully"
	case s.IsUncertain():
		return "The operation completed with uncertain result"
	default:
		return "The operation failed"
	}
}

// Error returns a formatted error string with code, name, and description.
func (s StatusCode) Error() string {
	if info, ok := statusCodeMap[s]; ok {
		return fmt.Sprintf("%s (0x%08X): %s", info.name, uint32(s), info.description)
	}
	return fmt.Sprintf("StatusCode 0x%08X", uint32(s))
}

// IsGood returns true if the status code indicates success.
func (s StatusCode) IsGood() bool {
	return (uint32(s) & StatusSeverityMask) == StatusSeverityGood
}

// IsUncertain returns true if the status code indicates uncertainty.
func (s StatusCode) IsUncertain() bool {
	return (uint32(s) & StatusSeverityMask) == StatusSeverityUncertain
}

// IsBad returns true if the status code indicates failure.
func (s StatusCode) IsBad() bool {
	return (uint32(s) & StatusSeverityMask) == StatusSeverityBad
}

// OPCUAError represents a failed service call.
type OPCUAError struct {
	Service    string
	StatusCode StatusCode
	Message    string
}

// Error implements the error interface.
func (e *OPCUAError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("opcua: %s (%s): %s", e.StatusCode, e.Service, e.Message)
	}
	return fmt.Sprintf("opcua: %s (%s)", e.StatusCode, e.Service)
}

// Is checks if the error matches the target.
func (e *OPCUAError) Is(target error) bool {
	switch t := target.(type) {
	case *OPCUAError:
		return e.StatusCode == t.StatusCode
	case StatusCode:
		return e.StatusCode == t
	}
	return false
}

// Common errors.
var (
	// ErrInvalidMessage indicates malformed encoded data.
	ErrInvalidMessage = errors.New("opcua: invalid message")

	// ErrNotConnected indicates there is no live session.
	ErrNotConnected = errors.New("opcua: not connected")

	// ErrHolderClosed indicates the session holder has been closed.
	ErrHolderClosed = errors.New("opcua: session holder closed")

	// ErrHandleReleased indicates a session handle was used after Release.
	ErrHandleReleased = errors.New("opcua: session handle released")

	// ErrInvalidNodeID indicates an invalid NodeID was specified.
	ErrInvalidNodeID = errors.New("opcua: invalid node ID")

	// ErrSubscriptionNotFound indicates the subscription was not found.
	ErrSubscriptionNotFound = errors.New("opcua: subscription not found")

	// ErrMonitoredItemNotFound indicates the monitored item was not found.
	ErrMonitoredItemNotFound = errors.New("opcua: monitored item not found")

	// ErrDefinitionUnavailable indicates a data type carries no usable
	// DataTypeDefinition attribute.
	ErrDefinitionUnavailable = errors.New("opcua: data type definition unavailable")

	// ErrTypesNotFullyLoaded indicates some complex types stayed unresolved.
	ErrTypesNotFullyLoaded = errors.New("opcua: complex types not fully loaded")

	// ErrUnknownEncoding indicates an extension object with an unregistered
	// encoding id.
	ErrUnknownEncoding = errors.New("opcua: unknown encoding")
)

// ConnectivityError reports a failed connect or reconnect of a shared
// session. Every caller waiting on the session receives the same error.
type ConnectivityError struct {
	Key string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("opcua: connect %s: %v", e.Key, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// DataTypeNotFoundError reports data type nodes whose supertype
// information is not available yet.
type DataTypeNotFoundError struct {
	NodeIDs []NodeID
}

func (e *DataTypeNotFoundError) Error() string {
	ids := make([]string, len(e.NodeIDs))
	for i, n := range e.NodeIDs {
		ids[i] = n.String()
	}
	return "opcua: data type not found: " + strings.Join(ids, ", ")
}

// DataTypeNotSupportedError reports a definition whose shape cannot be
// represented, such as a field with an invalid value rank.
type DataTypeNotSupportedError struct {
	TypeID    NodeID
	Field     string
	ValueRank int32
}

func (e *DataTypeNotSupportedError) Error() string {
	return fmt.Sprintf("opcua: data type %s not supported: field %q has value rank %d",
		e.TypeID, e.Field, e.ValueRank)
}

// InvalidDefinitionError reports a structure or enumeration definition that
// failed validation. The definition is rejected as a whole.
type InvalidDefinitionError struct {
	TypeID NodeID
	Reason string
}

func (e *InvalidDefinitionError) Error() string {
	return fmt.Sprintf("opcua: invalid definition of %s: %s", e.TypeID, e.Reason)
}

// NewOPCUAError creates a new service error.
func NewOPCUAError(service string, sc StatusCode, msg string) *OPCUAError {
	return &OPCUAError{
		Service:    service,
		StatusCode: sc,
		Message:    msg,
	}
}

// IsStatusCode checks if an error has a specific status code.
func IsStatusCode(err error, code StatusCode) bool {
	var opcuaErr *OPCUAError
	if errors.As(err, &opcuaErr) {
		return opcuaErr.StatusCode == code
	}
	var sc StatusCode
	if errors.As(err, &sc) {
		return sc == code
	}
	return false
}

// IsBadStatusCode checks if an error has a bad status code.
func IsBadStatusCode(err error) bool {
	var opcuaErr *OPCUAError
	if errors.As(err, &opcuaErr) {
		return opcuaErr.StatusCode.IsBad()
	}
	return false
}

// IsNotFound checks if the error indicates a missing monitored item.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrMonitoredItemNotFound) || IsStatusCode(err, StatusBadMonitoredItemIDInvalid)
}

// IsConnectivity checks if the error is a session connectivity failure.
func IsConnectivity(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce)
}

// IsNotConnected checks if the error indicates not connected.
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected) ||
		IsStatusCode(err, StatusBadNotConnected) ||
		IsStatusCode(err, StatusBadServerNotConnected)
}

// IsSessionLost checks if the error indicates the server dropped the
// session or its channel.
func IsSessionLost(err error) bool {
	return IsStatusCode(err, StatusBadSessionClosed) ||
		IsStatusCode(err, StatusBadSessionIDInvalid) ||
		IsStatusCode(err, StatusBadSecureChannelClosed) ||
		IsStatusCode(err, StatusBadConnectionClosed) ||
		IsNotConnected(err)
}
