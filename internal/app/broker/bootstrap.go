package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/ghalamif/sensorhub/internal/domain"
	"github.com/ghalamif/sensorhub/internal/errs"
	"github.com/ghalamif/sensorhub/internal/ports"
	"github.com/ghalamif/sensorhub/internal/protocol/fwproto"
)

// Setup brings a freshly opened firmware channel to a known state and returns
// the resource table with the EVENT pseudo-resource appended. A static table
// skips discovery. On error the caller closes fw.
func Setup(ctx context.Context, fw ports.Firmware, static []domain.ResourceDescriptor, timeout time.Duration) ([]domain.ResourceDescriptor, error) {
	for _, cmd := range []fwproto.Command{fwproto.SetupDDR(), fwproto.Reset()} {
		if err := sendRaw(fw, cmd); err != nil {
			return nil, errs.WrapFatal(err, "broker", "Setup", "send "+cmd.String())
		}
	}

	var descs []domain.ResourceDescriptor
	if len(static) > 0 {
		descs = append(descs, static...)
	} else {
		found, err := Discover(ctx, fw, timeout)
		if err != nil {
			return nil, err
		}
		descs = found
	}
	return append(descs, domain.EventResource()), nil
}

// Discover asks the firmware for its sensor table and reads status frames until
// the empty end-of-table frame. Other frame kinds are skipped.
func Discover(ctx context.Context, fw ports.Firmware, timeout time.Duration) ([]domain.ResourceDescriptor, error) {
	if err := sendRaw(fw, fwproto.GetStatus()); err != nil {
		return nil, errs.WrapFatal(err, "broker", "Discover", "send get-status")
	}

	type result struct {
		descs []domain.ResourceDescriptor
		err   error
	}
	done := make(chan result, 1)
	go func() {
		descs, err := readStatus(fw)
		done <- result{descs: descs, err: err}
	}()

	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		return r.descs, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, errs.WrapFatal(fmt.Errorf("no end-of-table frame within %s", timeout), "broker", "Discover", "read sensor table")
	}
}

func readStatus(fw ports.Firmware) ([]domain.ResourceDescriptor, error) {
	var (
		sp    fwproto.Splitter
		descs []domain.ResourceDescriptor
		ids   = map[uint8]bool{}
		names = map[string]bool{}
		buf   = make([]byte, firmwareBufLen)
	)
	for {
		n, err := fw.Read(buf)
		if err != nil {
			return nil, errs.WrapFatal(err, "broker", "Discover", "read firmware")
		}
		frames, err := sp.Feed(buf[:n])
		if err != nil {
			return nil, errs.WrapFatal(err, "broker", "Discover", "split frames")
		}
		for _, f := range frames {
			if f.Kind != fwproto.KindGetStatus {
				continue
			}
			if len(f.Payload) == 0 {
				return descs, nil
			}
			info, err := fwproto.DecodeSensorInfo(f.Payload)
			if err != nil || ids[info.ID] || names[info.Name] || info.Name == domain.EventResourceName {
				continue
			}
			ids[info.ID] = true
			names[info.Name] = true
			descs = append(descs, info.Descriptor())
		}
	}
}

func sendRaw(fw ports.Firmware, cmd fwproto.Command) error {
	raw, err := cmd.MarshalText()
	if err != nil {
		return err
	}
	return fw.Send(raw)
}
