// Package amqpclient implements broker.RPCBroker on RabbitMQ with amqp091-go.
//
// Queues are published through the default exchange with the queue name as
// routing key. RPC responders bind their queue to a direct exchange with the
// queue name as routing key; requests wait on RabbitMQ direct reply-to and
// are matched by a uuid correlation id.
package amqpclient
