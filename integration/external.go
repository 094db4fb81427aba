//go:build integration

package integration

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
)

// startMosquitto runs a broker on port until ctx is cancelled. The returned channel
// is closed when the broker has exited.
func startMosquitto(ctx context.Context, port int) (<-chan struct{}, error) {
	fmt.Println("Starting MQTT")
	cmd := exec.CommandContext(ctx, "mosquitto", "-p", strconv.Itoa(port))
	buffer := bytes.NewBuffer(make([]byte, 0, 10000))
	cmd.Stdout = buffer
	cmd.Stderr = buffer
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting mosquitto: %w", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		_ = cmd.Process.Signal(os.Interrupt)
		_ = cmd.Wait()
		fmt.Println("==== mosquitto stopped ====")
		fmt.Println(buffer.String())
	}()
	return done, nil
}
