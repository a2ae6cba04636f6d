// Command faultline exercises the faultline library end to end: supervised workers that fail, log
// fan-out to the console, a file, and a UDP receiver, and crash handling for signals and
// unrecovered panics.
package main

import "os"

func main() {
	os.Exit(Execute())
}
