package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/ghalamif/sensorhub"
)

func main() {
	flow, err := sensorhub.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logEvents := func(batch []sensorhub.HubEvent) error {
		for _, ev := range batch {
			fmt.Printf("%s boot=%s %s resource=%s session=%d rate=%d delay=%d %s\n",
				ev.At.Format("15:04:05.000"), ev.BootID, ev.Kind, ev.Resource, ev.SessionID, ev.Rate, ev.Delay, ev.Detail)
		}
		return nil
	}

	if err := flow.Run(ctx, sensorhub.EventsCallback("stdout", logEvents)); err != nil && err != context.Canceled {
		log.Fatalf("broker exited: %v", err)
	}
}
