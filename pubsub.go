package keyspace

import (
	"context"
	"fmt"

	"github.com/gomodule/redigo/redis"
)

type (
	// A confirmation pushed by the server in response to a
	// (un)subscribe command. The count carries the number of channels
	// the connection is subscribed to after the command.
	subscriptionEvent struct {
		kind    string
		channel string
		count   int
	}

	// A data message pushed to a subscribed channel.
	messageEvent struct {
		channel string
		payload string
	}
)

func (c *client) Subscribe(ctx context.Context, channel string, callback SubscribeFunc) error {
	c.mutex.Lock()
	err := c.ready()
	conn := c.conn
	c.mutex.Unlock()

	if err != nil {
		return err
	}

	if err := subscribeChannel(conn, channel); err != nil {
		return c.opError(err, "Error subscribing to channel %s in namespace %s", channel, c.namespace)
	}

	c.logger.Printf("Subscribed to channel %s in namespace %s", channel, c.namespace)

	finished := make(chan struct{})
	defer close(finished)

	// On cancellation, ask the server to unsubscribe us. The receive
	// loop below exits once the confirmation arrives, which stops the
	// subscription without tearing down the connection. Sending on a
	// subscribed connection while another goroutine receives is safe.

	go func() {
		select {
		case <-ctx.Done():
			if err := unsubscribeChannel(conn, channel); err != nil {
				c.logger.Printf("Error unsubscribing from channel %s in namespace %s (%s)", channel, c.namespace, err.Error())
			}

		case <-finished:
		}
	}()

	for {
		reply, err := conn.Receive()
		if err != nil {
			return c.opError(err, "Error receiving message from channel %s in namespace %s", channel, c.namespace)
		}

		event, err := parsePushedReply(reply)
		if err != nil {
			return c.opError(err, "Error parsing message from channel %s in namespace %s", channel, c.namespace)
		}

		switch event := event.(type) {
		case messageEvent:
			// One in-flight callback at a time; the next message is
			// not requested until this callback returns.
			c.logger.Printf("Received message from channel %s in namespace %s", event.channel, c.namespace)
			callback(event.payload)

		case subscriptionEvent:
			// Confirmations never reach the callback. A count of zero
			// means we have fully unsubscribed and the connection is
			// free for regular commands again.
			if event.count == 0 {
				return ctx.Err()
			}
		}
	}
}

//
// Subscription Helper Functions

func subscribeChannel(conn Conn, channel string) error {
	if err := conn.Send("SUBSCRIBE", channel); err != nil {
		return err
	}

	return conn.Flush()
}

func unsubscribeChannel(conn Conn, channel string) error {
	if err := conn.Send("UNSUBSCRIBE", channel); err != nil {
		return err
	}

	return conn.Flush()
}

// parsePushedReply converts a raw reply pushed on a subscribed
// connection into a subscriptionEvent or a messageEvent.
func parsePushedReply(reply interface{}) (interface{}, error) {
	values, err := redis.Values(reply, nil)
	if err != nil {
		return nil, err
	}

	var kind string
	if _, err := redis.Scan(values, &kind); err != nil {
		return nil, err
	}

	switch kind {
	case "message":
		var event messageEvent
		if _, err := redis.Scan(values[1:], &event.channel, &event.payload); err != nil {
			return nil, err
		}

		return event, nil

	case "subscribe", "unsubscribe", "psubscribe", "punsubscribe":
		event := subscriptionEvent{kind: kind}
		if _, err := redis.Scan(values[1:], &event.channel, &event.count); err != nil {
			return nil, err
		}

		return event, nil
	}

	return nil, fmt.Errorf("unexpected pushed reply of kind %s", kind)
}
