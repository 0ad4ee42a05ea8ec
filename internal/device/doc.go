// Package device holds the vocabulary shared by both HID-over-GATT roles:
// attribute UUIDs and handles, characteristic properties and permissions,
// stack completion statuses, and the failure taxonomy used by the peripheral
// and central sessions.
//
// Failures are grouped by how a session recovers from them:
//   - StructuralFailure: the attribute table is torn down and rebuilt
//   - TransportFailure: the send is dropped, the next tick retries
//   - ProtocolViolation: the offending event is logged and ignored
//   - LinkLoss: connection-scoped state is reset, the table survives
package device
