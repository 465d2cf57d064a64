package calcmq

import (
	"net"
)

// DefaultBrokerPort is used when no free port can be found
const DefaultBrokerPort = 5555

// findFreePort asks the kernel for an unused localhost TCP port
func findFreePort() int {
	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		return DefaultBrokerPort
	}
	defer l.Close()

	return l.Addr().(*net.TCPAddr).Port
}
