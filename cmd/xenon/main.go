// Binary xenon attaches to a running process and drives it from a
// hot-reloadable script: xenon <pid> <script-path>.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/EquinoxAlpha/xenon/internal/debugger"
	"github.com/EquinoxAlpha/xenon/internal/supervisor"
)

const usage = "usage: xenon <pid> <script-path>"

func main() {
	os.Exit(run())
}

func run() int {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if len(os.Args) != 3 {
		fmt.Fprintln(os.Stderr, usage)
		return 2
	}

	pid64, err := strconv.ParseInt(os.Args[1], 10, 32)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid pid %q: %v\n", os.Args[1], err)
		return 2
	}
	pid := int32(pid64)
	scriptPath := os.Args[2]

	entry := log.WithField("pid", pid)

	eng, err := debugger.New(pid, entry)
	if err != nil {
		entry.WithError(err).Error("attach failed")
		return 1
	}

	sup := supervisor.New(eng, scriptPath, entry)
	if err := sup.Run(context.Background()); err != nil {
		entry.WithError(err).Error("supervisor exited with error")
		return 1
	}
	return 0
}
