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
	"os"
	"path/filepath"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/bizflycloud/bizfly-mqtt-bridge/pkg/agentapi"
	"github.com/bizflycloud/bizfly-mqtt-bridge/pkg/bridge"
)

const (
	defaultBrokerURL = "tcp://127.0.0.1:1883"
	unixPrefix       = "unix://"
)

var defaultAddr = unixPrefix + filepath.Join(os.TempDir(), "bizfly-mqtt-bridge.sock")

var (
	cfgFile string
	addr    string
	debug   bool
	logger  *zap.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "bizfly-mqtt-bridge",
	Short: "BizFly Cloud MQTT bridge.",
	Long:  `BizFly Cloud MQTT bridge keeps a broker connection on a worker goroutine and exposes it to a polling host.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := cmd.Help(); err != nil {
			fmt.Println(err)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if debug {
			logger.Error(err.Error())
		}
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.bizfly-mqtt-bridge.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug (default is false)")
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "", "listening address of agent server.")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", defaultAddr)
	v.SetDefault("broker_url", defaultBrokerURL)
	v.SetDefault("keep_alive", 20*time.Second)
	v.SetDefault("clean_session", true)
	v.SetDefault("connect_timeout", 10*time.Second)
	v.SetDefault("disconnect_timeout", 10*time.Second)
	v.SetDefault("poll_interval", 33*time.Millisecond)
	v.SetDefault("reconnect", false)
	v.SetDefault("reconnect_min", time.Second)
	v.SetDefault("reconnect_max", 30*time.Second)
	v.SetDefault("event_buffer", 1024)
	v.SetDefault("traffic_interval", time.Minute)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	newLogger := zap.NewProduction
	if debug {
		newLogger = zap.NewDevelopment
	}
	var err error
	if logger, err = newLogger(); err != nil {
		panic(err)
	}

	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := homedir.Dir()
		if err != nil {
			logger.Error(err.Error())
			os.Exit(1)
		}

		// Search config in home directory with name ".bizfly-mqtt-bridge" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigName(".bizfly-mqtt-bridge")
	}

	setDefaults(viper.GetViper())

	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		logger.Info("Using config file: " + viper.ConfigFileUsed())
	}

	if addr == "" {
		addr = viper.GetString("addr")
	}
}

// connectionConfig builds the broker connection settings from v.
func connectionConfig(v *viper.Viper) bridge.ConnectionConfig {
	cfg := bridge.DefaultConfig(v.GetString("broker_url"))
	cfg.Username = v.GetString("username")
	cfg.Password = v.GetString("password")
	cfg.ClientID = v.GetString("client_id")
	cfg.KeepAlive = v.GetDuration("keep_alive")
	cfg.CleanSession = v.GetBool("clean_session")
	cfg.ConnectTimeout = v.GetDuration("connect_timeout")
	cfg.DisconnectTimeout = v.GetDuration("disconnect_timeout")
	return cfg
}

// agentClient returns a client of the agent listening on addr, exiting on error.
func agentClient() *agentapi.Client {
	c, err := agentapi.NewClient(addr, agentapi.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create agent client", zap.Error(err))
		os.Exit(1)
	}
	return c
}

// exitOnError logs err and exits when it is not nil.
func exitOnError(msg string, err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, msg+": "+err.Error())
	os.Exit(1)
}
