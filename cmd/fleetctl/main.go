package main

import "github.com/vpnfleet/vpnfleet/cmd/fleetctl/cmd"

func main() {
	cmd.Execute()
}
