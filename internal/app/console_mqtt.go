// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/imu_capture/internal/command"
	"github.com/relabs-tech/imu_capture/internal/config"
)

// PrintReply writes one info-topic message as a console line.
func PrintReply(w io.Writer, payload []byte) {
	r, err := command.ParseReply(payload)
	if err != nil {
		log.Warnf("console: %v", err)
		return
	}
	tag := map[command.ReplyType]string{command.Info: "INFO", command.Success: " OK ", command.Error: "FAIL"}[r.Type]
	fmt.Fprintf(w, "%s [%s] %s\n", time.Now().Format("15:04:05"), tag, r)
}

// RunConsoleMQTT prints node replies until ctx is done. When cmd is not
// nil it is published on the control topic once connected.
func RunConsoleMQTT(ctx context.Context, m config.MQTTOpt, w io.Writer, cmd *command.Command) error {
	client, err := connectMQTT(ctx, m, fmt.Sprintf("%s-console-%d", config.AppName, time.Now().UnixNano()%100000), func(c mqtt.Client) {
		err := subscribe(c, m.Topic.Info, func(_ mqtt.Client, msg mqtt.Message) {
			PrintReply(w, msg.Payload())
		})
		if err != nil {
			log.Error(err)
		}
	})
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	if cmd != nil {
		if cmd.RequestID == "" {
			cmd.RequestID = command.NewRequestID()
		}
		payload, err := command.Encode(cmd)
		if err != nil {
			return err
		}
		token := client.Publish(m.Topic.Control, 1, false, payload)
		if !token.WaitTimeout(publishTimeout) {
			return fmt.Errorf("console: publish %s timed out", cmd.Name)
		}
		if err := token.Error(); err != nil {
			return err
		}
		log.Infof("console: sent %s (request %s)", cmd.Name, cmd.RequestID)
	}

	<-ctx.Done()
	log.Info("console: shutting down")
	return nil
}
