//go:build !linux

package health

import (
	"context"
	"fmt"
	"net"
)

// Interface verifies the capture link exists and is up. An empty name
// checks that any non-loopback link is up.
func Interface(name string) CheckFunc {
	return func(ctx context.Context) Check {
		ifaces, err := net.Interfaces()
		if err != nil {
			return Check{Status: StatusUnhealthy, Message: fmt.Sprintf("list interfaces: %v", err)}
		}
		up := 0
		for _, ifi := range ifaces {
			isUp := ifi.Flags&net.FlagUp != 0
			if name != "" && ifi.Name == name {
				if !isUp {
					return Check{Status: StatusUnhealthy, Message: name + " is down"}
				}
				return Check{Status: StatusHealthy, Message: name + " is up"}
			}
			if isUp && ifi.Flags&net.FlagLoopback == 0 {
				up++
			}
		}
		if name != "" {
			return Check{Status: StatusUnhealthy, Message: name + " not found"}
		}
		if up == 0 {
			return Check{Status: StatusUnhealthy, Message: "no non-loopback interface is up"}
		}
		return Check{Status: StatusHealthy, Message: fmt.Sprintf("%d interfaces up", up)}
	}
}
