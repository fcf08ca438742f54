// This file is part of bizfly-mqtt-bridge
//
// Copyright (C) 2020  BizFly Cloud
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>

package cmd

import (
	"errors"
	"net/http"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/bizflycloud/bizfly-mqtt-bridge/pkg/bridge"
	"github.com/bizflycloud/bizfly-mqtt-bridge/pkg/server"
)

var autoConnect bool

// agentCmd represents the agent command
var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run agent.",
	Run: func(cmd *cobra.Command, args []string) {
		s, err := newAgent(viper.GetViper())
		if err != nil {
			logger.Fatal("failed to create new server", zap.Error(err))
			os.Exit(1)
		}
		logger.Debug("Listening address: " + addr)
		if err := s.Run(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server run failed", zap.Error(err))
			os.Exit(1)
		}
	},
}

func newAgent(v *viper.Viper) (*server.Server, error) {
	b, err := bridge.New(bridge.WithLogger(logger.Named("bridge")))
	if err != nil {
		return nil, err
	}

	opts := []server.Option{
		server.WithAddr(addr),
		server.WithBridge(b),
		server.WithConnectionConfig(connectionConfig(v)),
		server.WithAutoConnect(autoConnect),
		server.WithPollInterval(v.GetDuration("poll_interval")),
		server.WithEventBuffer(v.GetInt("event_buffer")),
		server.WithTrafficReport(v.GetDuration("traffic_interval")),
		server.WithHeartbeat(v.GetString("heartbeat_schedule"), v.GetString("heartbeat_topic")),
		server.WithHandlers(agentHandlers()),
		server.WithLogger(logger.Named("server")),
	}
	if v.GetBool("reconnect") {
		opts = append(opts, server.WithReconnect(v.GetDuration("reconnect_min"), v.GetDuration("reconnect_max")))
	}
	return server.New(opts...)
}

func agentHandlers() server.Handlers {
	return server.Handlers{
		OnConnect: func(e bridge.Connected) {
			logger.Info("Connected", zap.String("endpoint", e.Endpoint))
		},
		OnDisconnect: func(e bridge.Disconnected) {
			logger.Warn("Disconnected", zap.String("cause", e.Cause))
		},
		OnSubscribe: func(e bridge.Subscribed) {
			logger.Info("Subscribed", zap.String("topic", e.Topic), zap.Stringer("qos", e.QoS))
		},
		OnUnsubscribe: func(e bridge.Unsubscribed) {
			logger.Info("Unsubscribed", zap.String("topic", e.Topic))
		},
		OnDelivery: func(e bridge.Delivered) {
			logger.Debug("Delivered", zap.String("topic", e.Message.Topic))
		},
		OnMessage: func(e bridge.MessageReceived) {
			logger.Info("Message received",
				zap.String("topic", e.Message.Topic),
				zap.String("size", humanize.Bytes(uint64(len(e.Message.Payload)))))
		},
	}
}

func init() {
	rootCmd.AddCommand(agentCmd)
	agentCmd.PersistentFlags().BoolVar(&autoConnect, "connect", true, "connect to the broker on start.")
}
