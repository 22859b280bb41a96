/*
 * Copyright 2021. Go-SmartProxy Author All Rights Reserved.
 *
 *  Licensed under the Apache License, Version 2.0 (the "License");
 *  you may not use this file except in compliance with the License.
 *  You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 *  Unless required by applicable law or agreed to in writing, software
 *  distributed under the License is distributed on an "AS IS" BASIS,
 *  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *  See the License for the specific language governing permissions and
 *  limitations under the License.
 */

package main

import (
	"context"
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap/zapcore"

	"github.com/endink/go-smartproxy/config"
	"github.com/endink/go-smartproxy/logging"
	"github.com/endink/go-smartproxy/proxy"
	"github.com/endink/go-smartproxy/proxy/smartrouter"
	"github.com/endink/go-smartproxy/telemetry"
	"github.com/endink/go-smartproxy/util/worker"
)

var logger = logging.DefaultLogger

func main() {
	configFile := flag.String("config", "", "configuration file, overrides the default locations")
	flag.Parse()

	settings, err := loadSettings(*configFile)
	if err != nil {
		fmt.Printf("load configuration failed: %v\n", err)
		os.Exit(1)
	}

	format, err := logging.ParseFormat(settings.Log.Format)
	if err != nil {
		fmt.Printf("invalid log format %q\n", settings.Log.Format)
		os.Exit(1)
	}
	level := zapcore.InfoLevel
	if settings.Log.Level != "" {
		if err := level.Set(settings.Log.Level); err != nil {
			fmt.Printf("invalid log level %q\n", settings.Log.Level)
			os.Exit(1)
		}
	}
	logging.Configure(format, level)

	if err := telemetry.Start(context.Background()); err != nil {
		logger.Fatalf("start telemetry failed: %v", err)
	}

	router, err := smartrouter.NewRouter(settings.RouterConfig())
	if err != nil {
		logger.Fatalf("create router failed: %v", err)
	}

	stats := proxy.NewServiceStats(settings.Service.Name)
	wkr := worker.New(settings.Service.Name)
	wkr.Start()

	logger.Infof("Service %s ready, master target %s, %d candidate targets",
		stats.Name(), router.Config().Master, len(settings.Router.Targets))

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	sig := <-sc
	logger.Infof("Received signal %v, shutting down", sig)

	wkr.Stop()
	telemetry.Shutdown()
}

func loadSettings(path string) (*config.Settings, error) {
	if path == "" {
		return config.NewSettings()
	}

	content, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return config.NewSettingsFromString(string(content))
}
