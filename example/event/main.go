package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghalamif/sensorhub"
)

func main() {
	c, err := sensorhub.Open("EVENT")
	if err != nil {
		log.Fatalf("open session: %v", err)
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reqCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	id, err := c.AddEvent(reqCtx, sensorhub.CompositeEvent{
		Relation: sensorhub.RelationAnd,
		Clauses: []sensorhub.EventClause{
			// accelerometer z above 1200 while the light sensor reads below 10
			{ResourceID: 1, Channel: sensorhub.ChannelZ, Op: sensorhub.OpGreater, Param1: 1200},
			{ResourceID: 6, Channel: sensorhub.ChannelX, Op: sensorhub.OpLess, Param1: 10},
		},
	})
	cancel()
	if err != nil {
		log.Fatalf("add event: %v", err)
	}
	fmt.Printf("registered composite event %d\n", id)

	for {
		d, err := c.ReadData(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Fatalf("read: %v", err)
		}
		if len(d.Payload) > 0 {
			fmt.Printf("%s event %d fired\n", time.Now().Format(time.RFC3339), d.Payload[0])
		}
	}

	clearCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.ClearEvent(clearCtx, id); err != nil {
		log.Printf("clear event: %v", err)
	}
}
