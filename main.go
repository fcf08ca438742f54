package main

import "github.com/bizflycloud/bizfly-mqtt-bridge/cmd"

func main() {
	cmd.Execute()
}
