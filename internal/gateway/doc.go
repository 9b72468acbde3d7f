// Package gateway maintains the long-lived real-time connection to the chat
// service's push gateway.
//
// A Gateway:
//   - Dials the gateway and authenticates with IDENTIFY, or RESUME when a
//     session id and sequence number survive from an earlier connection
//   - Runs a heartbeat monitor per connection and forces a reconnect when
//     acknowledgements stop arriving
//   - Reconnects with capped exponential backoff and gives up after a fixed
//     number of consecutive failures
//   - Stops for good on close codes that mean the credentials are unusable
//   - Hands every DISPATCH frame to a Dispatcher
package gateway
