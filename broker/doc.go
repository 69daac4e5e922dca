// Package broker defines the message broker contracts used by queue and RPC
// sources and sinks, and a Pool that shares one connection per endpoint.
//
// Wire clients (natsclient, amqpclient, kafkaclient) implement Broker and,
// where the transport supports it, RPCBroker. They are plugged into a Pool
// through WithDialer so that this package does not depend on any of them:
//
//	pool := broker.NewPool(
//	    broker.WithDialer("amqp", amqpclient.Dial),
//	    broker.WithDialer("nats", natsclient.Dial),
//	    broker.WithLogger(logger),
//	)
//	defer pool.Close(ctx)
//
// Endpoints are keyed by scheme, user, host and vhost. The rpc+ scheme prefix
// selects request/reply on the same connection.
package broker
