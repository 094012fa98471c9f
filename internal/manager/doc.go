// Package manager implements the resilient connection manager.
//
// The Manager:
//   - Owns one logical connection and its transport socket
//   - Applies exponential backoff on failure, up to a bounded attempt count
//   - Enforces a connect timeout per open attempt
//   - Delivers state changes, inbound frames and send failures to
//     ordered subscriber callbacks
//   - Serializes every transition, timer fire and transport event onto
//     a single event loop
package manager
