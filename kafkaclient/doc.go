// Package kafkaclient implements broker.Broker on Kafka with
// segmentio/kafka-go. Queue names are topics; subscriptions join a consumer
// group, DefaultGroup unless one is named through broker.Durable.
package kafkaclient
