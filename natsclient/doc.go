// Package natsclient wraps a NATS connection for queue and RPC components.
//
// Client adds a circuit breaker, health monitoring and Prometheus status to
// nats.go and implements broker.RPCBroker:
//
//   - Subscribe consumes a subject as a queue group named after it.
//   - SubscribeDurable consumes through a durable JetStream consumer.
//   - Respond and Request use the subject "<exchange>.<queue>".
//
// Dial and NewDialer plug the client into a broker.Pool.
package natsclient
