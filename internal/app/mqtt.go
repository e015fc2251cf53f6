// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/imu_capture/internal/command"
	"github.com/relabs-tech/imu_capture/internal/config"
)

// RetryInterval is how long the node and collector wait before trying the
// broker again.
var RetryInterval = 5 * time.Second

const publishTimeout = 5 * time.Second

// connectMQTT connects to the broker, retrying every RetryInterval until
// ctx is done. onConnect runs on every (re)connection, so subscriptions
// made there survive broker restarts.
func connectMQTT(ctx context.Context, m config.MQTTOpt, clientID string, onConnect func(mqtt.Client)) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(m.Broker()).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetOnConnectHandler(func(c mqtt.Client) {
			log.Infof("mqtt: connected to %s as %s", m.Broker(), clientID)
			if onConnect != nil {
				onConnect(c)
			}
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warnf("mqtt: connection lost: %v", err)
		})

	client := mqtt.NewClient(opts)
	for {
		token := client.Connect()
		if token.Wait() && token.Error() == nil {
			return client, nil
		}
		log.Errorf("mqtt: connect %s: %v, retrying in %v", m.Broker(), token.Error(), RetryInterval)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(RetryInterval):
		}
	}
}

// subscribe wraps Subscribe with the token wait every caller needs.
func subscribe(c mqtt.Client, topic string, handler mqtt.MessageHandler) error {
	token := c.Subscribe(topic, 1, handler)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: subscribe %s: %w", topic, err)
	}
	log.Infof("mqtt: subscribed to %s", topic)
	return nil
}

// replyPublisher returns a function publishing replies on topic.
func replyPublisher(c mqtt.Client, topic string) func(command.Reply) {
	return func(r command.Reply) {
		b, err := r.Marshal()
		if err != nil {
			log.Errorf("mqtt: marshal reply: %v", err)
			return
		}
		token := c.Publish(topic, 1, false, b)
		if !token.WaitTimeout(publishTimeout) {
			log.Warnf("mqtt: publish to %s timed out", topic)
			return
		}
		if err := token.Error(); err != nil {
			log.Errorf("mqtt: publish to %s: %v", topic, err)
		}
	}
}
