package main

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/alshuail/portal-access/pkg/cli"
)

func main() {
	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if os.Getenv("ACCESS_DEBUG") != "" {
		logrus.SetLevel(logrus.DebugLevel)
	}

	if err := cli.NewRootCommand().Execute(); err != nil {
		logrus.WithError(err).Error("command failed")
		os.Exit(1)
	}
}
