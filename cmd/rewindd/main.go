// rewindd - focus-gated rolling screen recorder with instant replay clips
package main

import "github.com/rewinddvr/rewind/internal/cmd"

func main() {
	cmd.Execute()
}
