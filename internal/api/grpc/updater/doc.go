// Package updater implements the gRPC transport of the update engine.
//
// The service has four unary methods taking google.protobuf.Empty and
// returning google.protobuf.Struct with the JSON shape of the engine
// results, so a null "updated" or "new_version" survives the round trip.
package updater
