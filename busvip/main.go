// Command busvip runs loopback testbenches of the bus adapters and reports on
// their recordings.
package main

import "github.com/sarchlab/busvip/busvip/cmd"

func main() {
	cmd.Execute()
}
