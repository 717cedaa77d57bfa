package sysfs

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func fakeHwmon(t *testing.T, alias string, data []byte) (string, string) {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "hwmon3", "device")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	files := map[string][]byte{
		"modalias":  []byte(alias),
		"control":   nil,
		"data":      data,
		"data_size": []byte(strconv.Itoa(len(data)) + "\n"),
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), content, 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := os.MkdirAll(filepath.Join(root, "hwmon0", "device"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "hwmon0", "device", "modalias"), []byte("platform:coretemp"), 0o644); err != nil {
		t.Fatalf("write modalias: %v", err)
	}
	return root, dir
}

func TestFindMatchesModalias(t *testing.T) {
	root, dir := fakeHwmon(t, "acpi:SMO91D0:\n", nil)
	got, err := Find(Config{Root: root, DeviceDir: "device", Match: []string{"SMO91D0"}})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got != dir {
		t.Fatalf("expected %s, got %s", dir, got)
	}
	if _, err := Find(Config{Root: root, DeviceDir: "device", Match: []string{"nope"}}); err == nil {
		t.Fatalf("expected no match to fail")
	}
}

func TestChannelSendAndRead(t *testing.T) {
	payload := []byte{0, 11, 0, 0, 0}
	root, dir := fakeHwmon(t, "pci:psh", payload)

	ch, err := Open(Config{Root: root, PollTimeout: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer ch.Close()

	if err := ch.Send([]byte("0 11 0 255 255 255 255")); err != nil {
		t.Fatalf("send: %v", err)
	}
	written, err := os.ReadFile(filepath.Join(dir, "control"))
	if err != nil {
		t.Fatalf("read control: %v", err)
	}
	if string(written) != "0 11 0 255 255 255 255" {
		t.Fatalf("unexpected control write %q", written)
	}

	buf := make([]byte, 3)
	n, err := ch.Read(buf)
	if err != nil || n != 3 {
		t.Fatalf("expected 3 bytes, got %d err=%v", n, err)
	}
	n, err = ch.Read(buf)
	if err != nil || n != 2 || buf[0] != 0 || buf[1] != 0 {
		t.Fatalf("expected remaining 2 bytes, got %d %v err=%v", n, buf[:n], err)
	}
}

func TestReadAfterCloseFails(t *testing.T) {
	root, _ := fakeHwmon(t, "11A4", nil)
	ch, err := Open(Config{Root: root, PollTimeout: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := ch.Read(make([]byte, 8))
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	if err := ch.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected read to fail after close")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("read did not return after close")
	}
}
