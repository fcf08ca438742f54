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
	"strconv"
	"time"

	"github.com/bizflycloud/bizflyctl/formatter"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/bizflycloud/bizfly-mqtt-bridge/pkg/server"
)

var (
	eventsHeaders = []string{"Seq", "Time", "Kind", "Topic", "QoS", "Detail"}
	since         uint64
	follow        bool
	followEvery   time.Duration
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List recent events of the agent.",
	Run: func(cmd *cobra.Command, args []string) {
		c := agentClient()
		last := since
		for {
			events, err := c.Events(last)
			exitOnError("failed to list events", err)
			if len(events) > 0 {
				formatter.Output(eventsHeaders, eventRows(events))
				last = events[len(events)-1].Seq
			}
			if !follow {
				return
			}
			time.Sleep(followEvery)
		}
	},
}

func eventRows(events []server.EventView) [][]string {
	data := make([][]string, 0, len(events))
	for _, e := range events {
		qos := ""
		if e.QoS != nil {
			qos = strconv.Itoa(*e.QoS)
		}
		detail := e.Endpoint
		switch {
		case e.Cause != "":
			detail = e.Cause
		case e.Kind == "message" || e.Kind == "delivered":
			detail = humanize.Bytes(uint64(len(e.Payload)))
			if e.Retained {
				detail += " retained"
			}
		}
		data = append(data, []string{
			strconv.FormatUint(e.Seq, 10),
			e.Time.Format(time.RFC3339),
			e.Kind,
			e.Topic,
			qos,
			detail,
		})
	}
	return data
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.PersistentFlags().Uint64Var(&since, "since", 0, "only list events after this sequence number")
	eventsCmd.PersistentFlags().BoolVarP(&follow, "follow", "f", false, "keep listing new events")
	eventsCmd.PersistentFlags().DurationVar(&followEvery, "interval", time.Second, "how often to check for new events with --follow")
}
