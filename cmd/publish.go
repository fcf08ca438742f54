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
	"fmt"
	"io/ioutil"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/bizflycloud/bizfly-mqtt-bridge/pkg/server"
)

var (
	publishQoS  int
	retained    bool
	payloadFile string
)

var publishCmd = &cobra.Command{
	Use:   "publish TOPIC [PAYLOAD]",
	Short: "Publish a message through the agent.",
	Long:  `Publish a message through the agent. The payload is read from --file, or from stdin when "-" is given.`,
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		payload, err := readPayload(args[1:])
		exitOnError("failed to read payload", err)

		req := server.PublishRequest{Topic: args[0], Payload: payload, QoS: publishQoS, Retained: retained}
		exitOnError("publish failed", agentClient().Publish(req))
		fmt.Printf("Publish requested: %s (%s)\n", args[0], humanize.Bytes(uint64(len(payload))))
	},
}

func readPayload(args []string) ([]byte, error) {
	switch {
	case payloadFile != "":
		return ioutil.ReadFile(payloadFile)
	case len(args) == 1 && args[0] == "-":
		return ioutil.ReadAll(os.Stdin)
	case len(args) == 1:
		return []byte(args[0]), nil
	}
	return nil, nil
}

func init() {
	rootCmd.AddCommand(publishCmd)
	publishCmd.PersistentFlags().IntVar(&publishQoS, "qos", 0, "quality of service level (0, 1 or 2)")
	publishCmd.PersistentFlags().BoolVar(&retained, "retained", false, "ask the broker to retain the message")
	publishCmd.PersistentFlags().StringVar(&payloadFile, "file", "", "read the payload from a file")
}
