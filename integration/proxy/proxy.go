// Package proxy is a plain TCP forwarder placed between the bridge and the MQTT
// broker in the integration tests, so the tests can cut the connection.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/celerway/rosmqttbridge/log"
)

// StartProxy forwards listenPort to upstreamPort on localhost until ctx is cancelled.
// Open connections are torn down when it returns.
func StartProxy(ctx context.Context, listenPort, upstreamPort int, logger *log.Logger) error {
	logger.Infof("Setting up a proxy from port %d --> %d", listenPort, upstreamPort)
	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", listenPort))
	if err != nil {
		return err
	}
	var (
		mu    sync.Mutex
		conns []net.Conn
		wg    sync.WaitGroup
	)
	go func() {
		<-ctx.Done()
		_ = listener.Close()
		mu.Lock()
		for _, c := range conns {
			_ = c.Close()
		}
		mu.Unlock()
	}()
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				break
			}
			logger.Errorf("error accepting connection: %s", err)
			continue
		}
		upstream, err := net.Dial("tcp", fmt.Sprintf("localhost:%d", upstreamPort))
		if err != nil {
			logger.Errorf("error dialing remote addr: %s", err)
			_ = conn.Close()
			continue
		}
		mu.Lock()
		conns = append(conns, conn, upstream)
		mu.Unlock()
		wg.Add(1)
		go func() {
			defer wg.Done()
			go func() {
				_, _ = io.Copy(upstream, conn)
				_ = upstream.Close()
			}()
			_, _ = io.Copy(conn, upstream)
			_ = conn.Close()
		}()
	}
	wg.Wait()
	logger.Info("Proxy stopped")
	return nil
}
