// Command relayproxy runs the forward HTTP/HTTPS proxy.
package main

import "github.com/relayfwd/relayproxy/internal/relayproxycmd"

func main() {
	relayproxycmd.Main()
}
