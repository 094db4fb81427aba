// Package integration runs the bridge against a real mosquitto broker. The tests
// need the integration build tag plus mosquitto on the PATH:
//
//	go test -tags integration ./integration/
package integration
