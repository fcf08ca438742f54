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
	"strconv"

	"github.com/bizflycloud/bizflyctl/formatter"
	"github.com/spf13/cobra"
)

var statusHeaders = []string{"State", "Broker", "Pending", "LastEvent"}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the agent connection status.",
	Run: func(cmd *cobra.Command, args []string) {
		st, err := agentClient().Status()
		exitOnError("failed to get status", err)
		formatter.Output(statusHeaders, [][]string{{
			st.State, st.Broker, strconv.Itoa(st.Pending), strconv.FormatUint(st.LastEvent, 10),
		}})
	},
}

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect the agent to its broker.",
	Run: func(cmd *cobra.Command, args []string) {
		exitOnError("connect failed", agentClient().Connect())
		fmt.Println("Connect requested.")
	},
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Disconnect the agent from its broker.",
	Run: func(cmd *cobra.Command, args []string) {
		exitOnError("disconnect failed", agentClient().Disconnect())
		fmt.Println("Disconnected.")
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(disconnectCmd)
}
