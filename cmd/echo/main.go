// Command echo prints its arguments and then each line it reads from standard input.
// It is a predictable child for trying out procrun.
package main

import (
	"bufio"
	"fmt"
	"os"
)

func main() {
	for i, a := range os.Args[1:] {
		fmt.Printf("args[%d]: \"%s\"\n", i, a)
	}
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fmt.Printf("Line: \"%s\"\n", scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "reading stdin: %s\n", err)
		os.Exit(1)
	}
}
