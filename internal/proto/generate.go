// Package proto contains generated protobuf types for the Signal wire
// protocols the mock server speaks: WebSocket framing, provisioning,
// message envelopes, sender certificates, groups, and the storage service.
package proto

//go:generate protoc --go_out=. --go_opt=paths=source_relative Provisioning.proto WebSocketResources.proto SignalService.proto UnidentifiedDelivery.proto Groups.proto StorageService.proto
