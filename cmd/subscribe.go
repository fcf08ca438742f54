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

	"github.com/spf13/cobra"
)

var qos int

var subscribeCmd = &cobra.Command{
	Use:   "subscribe TOPIC",
	Short: "Subscribe the agent to a topic.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		exitOnError("subscribe failed", agentClient().Subscribe(args[0], qos))
		fmt.Println("Subscribe requested: " + args[0])
	},
}

var unsubscribeCmd = &cobra.Command{
	Use:   "unsubscribe TOPIC",
	Short: "Unsubscribe the agent from a topic.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		exitOnError("unsubscribe failed", agentClient().Unsubscribe(args[0]))
		fmt.Println("Unsubscribe requested: " + args[0])
	},
}

func init() {
	rootCmd.AddCommand(subscribeCmd)
	rootCmd.AddCommand(unsubscribeCmd)
	subscribeCmd.PersistentFlags().IntVar(&qos, "qos", 0, "quality of service level (0, 1 or 2)")
}
