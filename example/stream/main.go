package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/ghalamif/sensorhub"
)

func main() {
	c, err := sensorhub.Open("ACCEL")
	if err != nil {
		log.Fatalf("open session: %v", err)
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 50 Hz, flushed at most every 200 ms, kept running while the host is idle.
	if err := c.StartStreaming(ctx, 50, 200, sensorhub.NoStopOnIdle); err != nil {
		log.Fatalf("start streaming: %v", err)
	}

	for {
		d, err := c.ReadData(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Fatalf("read: %v", err)
		}
		if d.FlushDone {
			fmt.Println("flush complete")
			continue
		}
		fmt.Printf("session=%d sample=%s\n", c.SessionID(), hex.EncodeToString(d.Payload))
	}
}
