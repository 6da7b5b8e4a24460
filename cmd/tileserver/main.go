// Command tileserver runs the offline-first map tile server.
package main

import "github.com/tilehaven/tileserver/internal/cmd"

func main() {
	cmd.Execute()
}
